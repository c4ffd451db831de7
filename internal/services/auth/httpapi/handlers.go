package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/requestctx"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/ratelimit"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/service"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/token"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

// userView is the public JSON shape of an account.
type userView struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	Role             string     `json:"role"`
	EmailVerified    bool       `json:"emailVerified"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
	DiscountCode     *string    `json:"discountCode,omitempty"`
	ReferralPoints   *int       `json:"referralPoints,omitempty"`
	LettersUsed      *int       `json:"lettersUsed,omitempty"`
	SubscriptionPlan *string    `json:"subscriptionPlan,omitempty"`
}

type viewOptions struct {
	timestamps   bool
	subscription bool
}

func newUserView(u user.User, opts viewOptions) userView {
	view := userView{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		Role:           string(u.Role),
		EmailVerified:  u.EmailVerified,
		DiscountCode:   optionalString(u.DiscountCode),
		ReferralPoints: u.ReferralPoints,
		LettersUsed:    u.LettersUsed,
	}
	if opts.timestamps {
		created := u.CreatedAt
		view.CreatedAt = &created
		view.LastLogin = u.LastLogin
	}
	if opts.subscription {
		view.SubscriptionPlan = optionalString(u.SubscriptionPlan)
	}
	return view
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type authData struct {
	User   userView   `json:"user"`
	Tokens token.Pair `json:"tokens"`
}

type registerRequest struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Role            string `json:"role"`
	DiscountCode    string `json:"discountCode"`
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "Internal server error during registration")
		return
	}
	result, err := h.svc.Register(r.Context(), user.RegisterInput(req))
	if err != nil {
		writeError(w, err, "Internal server error during registration")
		return
	}
	writeSuccess(w, http.StatusCreated, "User registered successfully", authData{
		User:   newUserView(result.User, viewOptions{}),
		Tokens: result.Tokens,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "Internal server error during login")
		return
	}
	// Malformed submissions never reach the credential check, so they do not
	// spend account attempts.
	if _, _, err := user.ValidateLogin(user.LoginInput(req)); err != nil {
		writeError(w, err, "Internal server error during login")
		return
	}

	// Successful logins hand their account token back.
	var res *ratelimit.Reservation
	if email := user.NormalizeEmail(req.Email); email != "" && h.limiters.Account != nil {
		res = h.limiters.Account.Reserve(email)
		if !res.Allowed {
			denyRateLimited(w, r, res, h.limiters.Account.Policy().Message)
			return
		}
	}

	result, err := h.svc.Login(r.Context(), user.LoginInput(req))
	if err != nil {
		writeError(w, err, "Internal server error during login")
		return
	}
	res.Release()
	writeSuccess(w, http.StatusOK, "Login successful", authData{
		User:   newUserView(result.User, viewOptions{subscription: true}),
		Tokens: result.Tokens,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	Role         string `json:"role"`
}

func (h *handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeJSON(w, http.StatusBadRequest, envelope{
			Message: "Validation failed",
			Errors:  []user.FieldError{{Field: "refreshToken", Message: "Refresh token is required"}},
		})
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken, req.Role)
	if err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	writeSuccess(w, http.StatusOK, "Token refreshed successfully", struct {
		Tokens token.Pair `json:"tokens"`
	}{Tokens: pair})
}

func (h *handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, _ := requestctx.PrincipalFromContext(r.Context())
	if err := h.svc.Logout(r.Context(), principal); err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	writeSuccess(w, http.StatusOK, "Logged out successfully", nil)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

const resetRequestedMessage = "If an account with that email exists, a password reset link has been sent"

func (h *handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email, req.Role); err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	writeSuccess(w, http.StatusOK, resetRequestedMessage, nil)
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password, req.ConfirmPassword); err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	writeSuccess(w, http.StatusOK, "Password reset successfully", nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, _ := requestctx.PrincipalFromContext(r.Context())
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	err := h.svc.ChangePassword(r.Context(), principal.ID, user.Role(principal.Role), req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	writeSuccess(w, http.StatusOK, "Password changed successfully", nil)
}

func (h *handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := requestctx.PrincipalFromContext(r.Context())
	account, err := h.svc.Me(r.Context(), principal.ID, user.Role(principal.Role))
	if err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	writeSuccess(w, http.StatusOK, "", struct {
		User userView `json:"user"`
	}{User: newUserView(account, viewOptions{timestamps: true, subscription: true})})
}

type userListView struct {
	Users         []userView `json:"users"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
}

func (h *handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	principal, _ := requestctx.PrincipalFromContext(r.Context())
	query := r.URL.Query()

	req := service.ListUsersRequest{
		Tenant:    sanitizeString(query.Get("tenant")),
		Filter:    sanitizeString(query.Get("filter")),
		PageToken: sanitizeString(query.Get("pageToken")),
	}
	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			writeJSON(w, http.StatusBadRequest, envelope{
				Message: "Validation failed",
				Errors:  []user.FieldError{{Field: "pageSize", Message: "Page size must be a positive integer"}},
			})
			return
		}
		req.PageSize = size
	}

	page, err := h.svc.ListUsers(r.Context(), user.Role(principal.Role), req)
	if err != nil {
		writeError(w, err, "Internal server error")
		return
	}
	view := userListView{Users: make([]userView, 0, len(page.Users)), NextPageToken: page.NextPageToken}
	for _, u := range page.Users {
		view.Users = append(view.Users, newUserView(u, viewOptions{timestamps: true, subscription: true}))
	}
	writeSuccess(w, http.StatusOK, "", view)
}

type healthResponse struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	Timestamp   string          `json:"timestamp"`
	Environment string          `json:"environment,omitempty"`
	Connections map[string]bool `json:"connections,omitempty"`
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Success:     true,
		Message:     "Talk-to-My-Lawyer API is running",
		Timestamp:   h.timestamp(),
		Environment: h.env,
	})
}

func (h *handler) handleHealthDB(w http.ResponseWriter, r *http.Request) {
	statuses := h.health.HealthCheck(r.Context())
	connections := make(map[string]bool, len(statuses))
	healthy := len(statuses) > 0
	for role, ok := range statuses {
		connections[string(role)] = ok
		healthy = healthy && ok
	}

	status := http.StatusOK
	message := "All database connections healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		message = "Some database connections failing"
	}
	writeJSON(w, status, healthResponse{
		Success:     healthy,
		Message:     message,
		Timestamp:   h.timestamp(),
		Connections: connections,
	})
}

func (h *handler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339Nano)
}
