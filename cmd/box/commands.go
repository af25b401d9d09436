package box

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/goTNT/iproto"
	"github.com/spf13/cobra"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks liveness of the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := boxClient.Ping(context.Background()); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
	callCmd = &cobra.Command{
		Use:   "call [function] [args-json]",
		Short: "Invokes a stored function on the server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fnArgs, err := parseJSONArgs(args, 1)
			if err != nil {
				return err
			}
			resp, err := boxClient.Call(context.Background(), args[0], fnArgs)
			if err != nil {
				return err
			}
			return printData(resp)
		},
	}
	evalCmd = &cobra.Command{
		Use:   "eval [expression] [args-json]",
		Short: "Executes an expression on the server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			evalArgs, err := parseJSONArgs(args, 1)
			if err != nil {
				return err
			}
			resp, err := boxClient.Eval(context.Background(), args[0], evalArgs)
			if err != nil {
				return err
			}
			return printData(resp)
		},
	}
	selectCmd = &cobra.Command{
		Use:   "select [space] [key-json]",
		Short: "Reads tuples from a space",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			space, err := boxClient.Space(ctx, args[0])
			if err != nil {
				return err
			}

			key, err := parseJSONArgs(args, 1)
			if err != nil {
				return err
			}

			index, _ := cmd.Flags().GetString("index")
			limit, _ := cmd.Flags().GetUint32("limit")
			offset, _ := cmd.Flags().GetUint32("offset")
			iterName, _ := cmd.Flags().GetString("iterator")
			iterator, err := parseIterator(iterName)
			if err != nil {
				return err
			}

			// No key means a full scan
			if key == nil {
				iterator = iproto.IterAll
			}

			resp, err := space.Select(ctx, index, iterator, key, limit, offset)
			if err != nil {
				return err
			}
			return printData(resp)
		},
	}
	insertCmd = &cobra.Command{
		Use:   "insert [space] [tuple-json]",
		Short: "Inserts a tuple into a space",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			space, err := boxClient.Space(ctx, args[0])
			if err != nil {
				return err
			}

			tuple, err := parseJSONArgs(args, 1)
			if err != nil {
				return err
			}

			resp, err := space.Insert(ctx, tuple)
			if err != nil {
				return err
			}
			return printData(resp)
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [space] [key-json]",
		Short: "Deletes the tuple addressed by a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			space, err := boxClient.Space(ctx, args[0])
			if err != nil {
				return err
			}

			key, err := parseJSONArgs(args, 1)
			if err != nil {
				return err
			}

			index, _ := cmd.Flags().GetString("index")
			resp, err := space.Delete(ctx, index, key)
			if err != nil {
				return err
			}
			return printData(resp)
		},
	}
)

func init() {
	selectCmd.Flags().String("index", "", "index to select through (empty for the primary index)")
	selectCmd.Flags().String("iterator", "eq", "iterator type (eq, req, all, lt, le, ge, gt)")
	selectCmd.Flags().Uint32("limit", 100, "maximum number of tuples to return")
	selectCmd.Flags().Uint32("offset", 0, "number of tuples to skip")
	deleteCmd.Flags().String("index", "", "index to delete through (empty for the primary index)")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseJSONArgs decodes the optional JSON array at args[idx]; a missing
// argument yields nil.
func parseJSONArgs(args []string, idx int) ([]interface{}, error) {
	if len(args) <= idx || args[idx] == "" {
		return nil, nil
	}
	var parsed []interface{}
	if err := json.Unmarshal([]byte(args[idx]), &parsed); err != nil {
		return nil, fmt.Errorf("argument must be a JSON array: %w", err)
	}
	return parsed, nil
}

// parseIterator maps the iterator flag to its protocol value.
func parseIterator(name string) (iproto.Iter, error) {
	switch name {
	case "eq":
		return iproto.IterEq, nil
	case "req":
		return iproto.IterReq, nil
	case "all":
		return iproto.IterAll, nil
	case "lt":
		return iproto.IterLt, nil
	case "le":
		return iproto.IterLe, nil
	case "ge":
		return iproto.IterGe, nil
	case "gt":
		return iproto.IterGt, nil
	default:
		return 0, fmt.Errorf("unknown iterator %q", name)
	}
}

// printData prints the response payload as indented JSON.
func printData(resp *iproto.Response) error {
	if !resp.HasData() {
		fmt.Println("ok")
		return nil
	}

	data, err := resp.Data()
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
