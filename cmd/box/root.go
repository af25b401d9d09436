package box

import (
	"github.com/ValentinKolb/goTNT/client"
	"github.com/ValentinKolb/goTNT/cmd/util"
	"github.com/ValentinKolb/goTNT/common"
	"github.com/spf13/cobra"
)

var (
	boxClient client.IClient

	// BoxCommands represents the database command group
	BoxCommands = &cobra.Command{
		Use:               "box",
		Short:             "Perform database operations",
		PersistentPreRunE: setupBoxClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common connection flags to the box command
	util.SetupClientFlags(BoxCommands)

	// Add subcommands
	BoxCommands.AddCommand(pingCmd)
	BoxCommands.AddCommand(callCmd)
	BoxCommands.AddCommand(evalCmd)
	BoxCommands.AddCommand(selectCmd)
	BoxCommands.AddCommand(insertCmd)
	BoxCommands.AddCommand(deleteCmd)
	BoxCommands.AddCommand(perfTestCmd)
}

// setupBoxClient connects the client used by all box subcommands
func setupBoxClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration
	config := util.GetClientConfig()
	common.InitLoggers(config.LogLevel)

	// Get transport
	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the client
	boxClient, err = client.New(*config, t)
	return err
}
