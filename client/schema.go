package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/goTNT/iproto"
	"github.com/vmihailenco/msgpack/v5"
)

// --------------------------------------------------------------------------
// Schema Resolution
// --------------------------------------------------------------------------

// Positions of the fields the client needs inside the system view tuples.
const (
	vspaceFieldID   = 0 // _vspace: [id, owner, name, engine, ...]
	vindexFieldID   = 1 // _vindex: [space_id, iid, name, type, ...]
	vindexFieldName = 2
)

// resolveSpace looks the space id up by name, using the cache when possible.
func (c *client) resolveSpace(ctx context.Context, name string) (uint32, error) {
	if c.config.SkipSchema {
		return 0, fmt.Errorf("client: schema resolution is disabled, space %q must be addressed by id", name)
	}
	if id, ok := c.spaces.Load(name); ok {
		return id, nil
	}

	req := iproto.NewSelectRequest(
		iproto.VSpaceID, iproto.VSpaceNameIndex,
		iproto.IterEq, []interface{}{name}, 1, 0,
	)
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return 0, err
	}

	tuple, err := singleTuple(resp)
	if err != nil {
		return 0, fmt.Errorf("client: no space named %q: %v", name, err)
	}

	var id uint32
	if err := msgpack.Unmarshal(tuple[vspaceFieldID], &id); err != nil {
		return 0, fmt.Errorf("client: malformed _vspace tuple for %q: %v", name, err)
	}

	c.spaces.Store(name, id)
	Logger.Debugf("resolved space %q to id %d", name, id)
	return id, nil
}

// resolveIndex looks the index id up by name within a space. The empty name
// addresses the primary index (id 0) without a lookup.
func (c *client) resolveIndex(ctx context.Context, spaceID uint32, name string) (uint32, error) {
	if name == "" {
		return 0, nil
	}
	if c.config.SkipSchema {
		return 0, fmt.Errorf("client: schema resolution is disabled, index %q must be addressed by id", name)
	}

	cacheKey := fmt.Sprintf("%d/%s", spaceID, name)
	if id, ok := c.indexes.Load(cacheKey); ok {
		return id, nil
	}

	req := iproto.NewSelectRequest(
		iproto.VIndexID, iproto.VIndexNameIndex,
		iproto.IterEq, []interface{}{spaceID, name}, 1, 0,
	)
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return 0, err
	}

	tuple, err := singleTuple(resp)
	if err != nil {
		return 0, fmt.Errorf("client: no index named %q in space %d: %v", name, spaceID, err)
	}

	var id uint32
	if err := msgpack.Unmarshal(tuple[vindexFieldID], &id); err != nil {
		return 0, fmt.Errorf("client: malformed _vindex tuple for %q: %v", name, err)
	}

	c.indexes.Store(cacheKey, id)
	Logger.Debugf("resolved index %q of space %d to id %d", name, spaceID, id)
	return id, nil
}

// singleTuple extracts exactly one tuple from a select response. The fields
// stay raw so the caller decodes only what it needs.
func singleTuple(resp *iproto.Response) ([]msgpack.RawMessage, error) {
	var rows [][]msgpack.RawMessage
	if err := resp.DataInto(&rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	if len(rows[0]) < 3 {
		return nil, fmt.Errorf("tuple has only %d fields", len(rows[0]))
	}
	return rows[0], nil
}
