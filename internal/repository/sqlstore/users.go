package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinicdesk/messaging/internal/domain"
)

// LookupUsers resolves ids through the cache, then the users table. Unknown
// ids are returned with only ID set.
func (r *Repository) LookupUsers(ctx context.Context, ids []string) (map[string]domain.UserSummary, error) {
	out := make(map[string]domain.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	missing := ids
	if r.Cache != nil {
		found, miss, err := r.Cache.GetUsers(ctx, ids)
		if err == nil {
			for id, u := range found {
				out[id] = u
			}
			missing = miss
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(missing))
	args := make([]interface{}, len(missing))
	for i, id := range missing {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := r.getter(nil).QueryContext(ctx, `
		SELECT id, display_name, role, avatar_url
		FROM users
		WHERE id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loaded []domain.UserSummary
	for rows.Next() {
		var u domain.UserSummary
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Role, &u.AvatarURL); err != nil {
			return nil, err
		}
		out[u.ID] = u
		loaded = append(loaded, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range missing {
		if _, ok := out[id]; !ok {
			out[id] = domain.UserSummary{ID: id}
		}
	}

	if r.Cache != nil {
		_ = r.Cache.SetUsers(ctx, loaded)
	}
	return out, nil
}

// UpsertUser maintains the local mirror of the identity provider's users.
func (r *Repository) UpsertUser(ctx context.Context, u domain.UserSummary) error {
	_, err := r.getter(nil).ExecContext(ctx, `
		INSERT INTO users (id, display_name, role, avatar_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET display_name = excluded.display_name,
		    role = excluded.role,
		    avatar_url = excluded.avatar_url
	`, u.ID, u.DisplayName, u.Role, u.AvatarURL)
	if err != nil {
		return err
	}
	if r.Cache != nil {
		_ = r.Cache.SetUsers(ctx, []domain.UserSummary{u})
	}
	return nil
}
