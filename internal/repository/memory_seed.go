package repository

import (
	"fmt"
	"strings"

	"github.com/campus-care/counseling-service/internal/domain"
)

// SeedUsers loads active users described as "id:role[:full name]" entries
// separated by commas. It returns how many users were stored.
func (s *MemoryStore) SeedUsers(entries string) (int, error) {
	count := 0
	for _, entry := range strings.Split(entries, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" {
			return count, fmt.Errorf("seed user %q: want id:role[:name]", entry)
		}
		role := domain.Role(strings.ToLower(parts[1]))
		if !role.Valid() {
			return count, fmt.Errorf("seed user %q: unknown role %q", entry, parts[1])
		}
		user := domain.User{ID: parts[0], Username: parts[0], Role: role, IsActive: true}
		if len(parts) == 3 {
			user.FullName = parts[2]
		}
		s.PutUser(user)
		count++
	}
	return count, nil
}
