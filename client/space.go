package client

import (
	"context"

	"github.com/ValentinKolb/goTNT/iproto"
)

// --------------------------------------------------------------------------
// Space Handle
// --------------------------------------------------------------------------

// Space is the handle for one database space. Index parameters on its
// methods take an index name; the empty string addresses the primary index.
type Space struct {
	// ID is the numeric space id all requests are sent with.
	ID uint32

	// Name is the resolved space name; empty for handles obtained by id.
	Name string

	client *client
}

// Select reads tuples matching key through the given index, in the order
// and with the matching rule of the iterator.
func (s *Space) Select(ctx context.Context, index string, iterator iproto.Iter, key interface{}, limit, offset uint32) (*iproto.Response, error) {
	indexID, err := s.client.resolveIndex(ctx, s.ID, index)
	if err != nil {
		return nil, err
	}
	return s.client.transport.Do(ctx,
		iproto.NewSelectRequest(s.ID, indexID, iterator, key, limit, offset))
}

// Insert stores a new tuple; it fails if a tuple with the same primary key
// already exists.
func (s *Space) Insert(ctx context.Context, tuple interface{}) (*iproto.Response, error) {
	return s.client.transport.Do(ctx, iproto.NewInsertRequest(s.ID, tuple))
}

// Replace stores a tuple, overwriting an existing one with the same primary
// key.
func (s *Space) Replace(ctx context.Context, tuple interface{}) (*iproto.Response, error) {
	return s.client.transport.Do(ctx, iproto.NewReplaceRequest(s.ID, tuple))
}

// Update applies the update operations to the tuple addressed by key.
func (s *Space) Update(ctx context.Context, index string, key, ops interface{}) (*iproto.Response, error) {
	indexID, err := s.client.resolveIndex(ctx, s.ID, index)
	if err != nil {
		return nil, err
	}
	return s.client.transport.Do(ctx, iproto.NewUpdateRequest(s.ID, indexID, key, ops))
}

// Delete removes the tuple addressed by key.
func (s *Space) Delete(ctx context.Context, index string, key interface{}) (*iproto.Response, error) {
	indexID, err := s.client.resolveIndex(ctx, s.ID, index)
	if err != nil {
		return nil, err
	}
	return s.client.transport.Do(ctx, iproto.NewDeleteRequest(s.ID, indexID, key))
}

// Upsert updates the tuple addressed by the primary key of tuple, or inserts
// tuple if it does not exist.
func (s *Space) Upsert(ctx context.Context, tuple, ops interface{}) (*iproto.Response, error) {
	return s.client.transport.Do(ctx, iproto.NewUpsertRequest(s.ID, tuple, ops))
}
