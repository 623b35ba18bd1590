package dto

// LoginRequest authenticates an operator.
type LoginRequest struct {
	Operator string `json:"operator" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
}
