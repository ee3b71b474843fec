package actors

import (
	stdctx "context"
	"errors"
	"log"
	"strings"
	"time"

	"whisper-link/internal/assist"
	"whisper-link/internal/database"
	"whisper-link/internal/identity"
	"whisper-link/internal/models"
	"whisper-link/internal/profile"
	"whisper-link/internal/pubsub"
	"whisper-link/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	passwordCost      = bcrypt.DefaultCost
	minPasswordLength = 6
	minPhoneLength    = 10
)

// PhoneScreener flags phone numbers associated with abuse.
type PhoneScreener interface {
	CheckPhoneNumber(ctx stdctx.Context, phone string) (assist.PhoneVerdict, error)
}

// Message types for AuthSupervisor
type (
	RegisterMsg struct {
		DisplayName string
		Username    string
		Email       string
		Password    string
	}

	LoginMsg struct {
		Email    string
		Password string
	}

	// PhoneLoginMsg carries the ID token the identity provider issued after
	// the one-time code was confirmed. The phone number is taken from it.
	PhoneLoginMsg struct {
		IDToken string
	}
)

// AuthSupervisor owns account creation and credential checks. Running them in
// one actor serializes the uniqueness checks with the inserts on this node.
type AuthSupervisor struct {
	store    database.UserStore
	bus      pubsub.Bus
	screener PhoneScreener
	verifier identity.PhoneVerifier
	metrics  *utils.MetricsCollector
	timeout  time.Duration
}

// NewAuthSupervisor builds the supervisor. A nil verifier disables phone
// sign-in.
func NewAuthSupervisor(store database.UserStore, bus pubsub.Bus, screener PhoneScreener, verifier identity.PhoneVerifier, metrics *utils.MetricsCollector, timeout time.Duration) actor.Actor {
	return &AuthSupervisor{
		store:    store,
		bus:      bus,
		screener: screener,
		verifier: verifier,
		metrics:  metrics,
		timeout:  timeout,
	}
}

func (s *AuthSupervisor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *RegisterMsg:
		start := time.Now()
		user, err := s.register(msg)
		s.metrics.Track("register", start, err)
		respond(context, user, err)

	case *LoginMsg:
		start := time.Now()
		user, err := s.login(msg)
		s.metrics.Track("login", start, err)
		respond(context, user, err)

	case *PhoneLoginMsg:
		start := time.Now()
		user, err := s.phoneLogin(msg)
		s.metrics.Track("phone_login", start, err)
		respond(context, user, err)
	}
}

func (s *AuthSupervisor) register(msg *RegisterMsg) (*models.User, error) {
	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), s.timeout)
	defer cancel()

	email := strings.ToLower(strings.TrimSpace(msg.Email))
	if !strings.Contains(email, "@") {
		return nil, utils.NewInvalidInputError("A valid email is required")
	}
	if len(msg.Password) < minPasswordLength {
		return nil, utils.NewInvalidInputError("Password must be at least 6 characters")
	}
	username, err := profile.ValidateUsername(msg.Username)
	if err != nil {
		return nil, err
	}

	taken, err := s.store.ExistingUsernames(ctx, []string{username})
	if err != nil {
		return nil, err
	}
	if taken[username] {
		return nil, utils.NewAppError(utils.ErrDuplicate, "Username is already taken. Please choose another one.", nil)
	}
	if existing, _ := s.store.GetUserByEmail(ctx, email); existing != nil {
		log.Printf("AuthSupervisor: email already registered: %s", email)
		return nil, utils.NewAppError(utils.ErrUserAlreadyExists, "Email already registered", nil)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(msg.Password), passwordCost)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Failed to hash password", err)
	}

	user := &models.User{
		ID:             uuid.New(),
		DisplayName:    strings.TrimSpace(msg.DisplayName),
		Username:       username,
		Email:          email,
		HashedPassword: string(hashed),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		log.Printf("AuthSupervisor: failed to save user: %v", err)
		return nil, err
	}

	log.Printf("AuthSupervisor: registered user %s", user.ID)
	s.announce(ctx, user.ID)
	return user, nil
}

func (s *AuthSupervisor) login(msg *LoginMsg) (*models.User, error) {
	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), s.timeout)
	defer cancel()

	invalid := utils.NewAppError(utils.ErrInvalidCredentials, "Invalid credentials", nil)

	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(msg.Email)))
	if err != nil {
		if utils.IsNotFound(err) {
			return nil, invalid
		}
		return nil, err
	}
	if user.HashedPassword == "" {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(msg.Password)); err != nil {
		log.Printf("AuthSupervisor: password mismatch for %s", user.ID)
		return nil, invalid
	}
	return user, nil
}

func (s *AuthSupervisor) phoneLogin(msg *PhoneLoginMsg) (*models.User, error) {
	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), s.timeout)
	defer cancel()

	if strings.TrimSpace(msg.IDToken) == "" {
		return nil, utils.NewUnauthorizedError("Phone verification is required")
	}
	if s.verifier == nil {
		return nil, utils.NewAppError(utils.ErrUpstream, "Phone sign-in is not configured", nil)
	}
	phone, err := s.verifier.VerifyPhone(ctx, msg.IDToken)
	if err != nil {
		return nil, err
	}

	phone = strings.TrimSpace(phone)
	if !strings.HasPrefix(phone, "+") || len(phone) < minPhoneLength {
		return nil, utils.NewInvalidInputError("Please enter a valid phone number with country code.")
	}

	if s.screener != nil {
		verdict, err := s.screener.CheckPhoneNumber(ctx, phone)
		if err != nil {
			return nil, err
		}
		if verdict.IsAbusive {
			reason := verdict.Reason
			if reason == "" {
				reason = "phone number flagged for abuse"
			}
			return nil, utils.NewForbiddenError(reason)
		}
	}

	user, err := s.store.GetUserByPhone(ctx, phone)
	if err == nil {
		return user, nil
	}
	if !utils.IsNotFound(err) {
		return nil, err
	}

	user = &models.User{
		ID:          uuid.New(),
		PhoneNumber: phone,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	log.Printf("AuthSupervisor: created phone user %s", user.ID)
	s.announce(ctx, user.ID)
	return user, nil
}

func (s *AuthSupervisor) announce(ctx stdctx.Context, userID uuid.UUID) {
	event := pubsub.Event{Kind: pubsub.KindUserUpdated, ID: userID.String()}
	if err := s.bus.Publish(ctx, pubsub.UsersTopic, event); err != nil {
		log.Printf("AuthSupervisor: publish failed: %v", err)
	}
}

// respond replies with the result, or with the error as an *utils.AppError.
func respond(context actor.Context, result interface{}, err error) {
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			context.Respond(appErr)
			return
		}
		context.Respond(utils.NewAppError(utils.ErrDatabase, err.Error(), err))
		return
	}
	context.Respond(result)
}
