package dto

import "github.com/campus-care/counseling-service/internal/domain"

// CounselorResponse is the public card of a bookable counselor.
type CounselorResponse struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func NewCounselorResponses(users []domain.User) []CounselorResponse {
	out := make([]CounselorResponse, 0, len(users))
	for _, user := range users {
		out = append(out, CounselorResponse{
			ID:       user.ID,
			FullName: user.FullName,
			Email:    user.Email,
			Role:     string(user.Role),
		})
	}
	return out
}
