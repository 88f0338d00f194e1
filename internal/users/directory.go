package users

import "context"

// Directory resolves ids to display summaries. Unknown ids are omitted.
func Directory(ctx context.Context, store Store, ids []string) (map[string]Summary, error) {
	found, err := store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Summary, len(found))
	for id, u := range found {
		out[id] = u.Summary()
	}
	return out, nil
}
