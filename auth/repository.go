package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"freightflow/domain"
	"freightflow/store"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = fmt.Errorf("auth: user not found: %w", domain.ErrNotFound)
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = fmt.Errorf("auth: email already exists: %w", domain.ErrConflict)
)

// Repository handles data access for authentication.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByID(ctx context.Context, userID string) (domain.User, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email        string
	FullName     string
	PasswordHash string
	Role         domain.Role
	Phone        *string
	CompanyName  *string
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx store.Tx, topic, aggregateID, actorID string, payload map[string]any) error
}

// StoreRepository implements Repository on top of the entity store. Agent
// users get their profile in the same transaction as the account.
type StoreRepository struct {
	store       store.Store
	outbox      OutboxWriter
	idGenerator func() string
	now         func() time.Time
}

func NewRepository(st store.Store, outbox OutboxWriter) *StoreRepository {
	return &StoreRepository{
		store:       st,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (r *StoreRepository) WithIDGenerator(gen func() string) *StoreRepository {
	r.idGenerator = gen
	return r
}

func (r *StoreRepository) WithClock(now func() time.Time) *StoreRepository {
	r.now = now
	return r
}

// CreateUser inserts a new user with hashed password.
func (r *StoreRepository) CreateUser(ctx context.Context, params CreateUserParams) (domain.User, error) {
	now := r.now().UTC()
	user := domain.User{
		ID:           r.idGenerator(),
		Email:        params.Email,
		FullName:     params.FullName,
		Phone:        params.Phone,
		CompanyName:  params.CompanyName,
		Role:         params.Role,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.PutUser(ctx, user); err != nil {
			return err
		}
		if user.Role == domain.RoleAgent {
			if err := tx.PutAgentProfile(ctx, domain.AgentProfile{UserID: user.ID, CoverageAreas: []string{}, UpdatedAt: now}); err != nil {
				return err
			}
		}
		if r.outbox == nil {
			return nil
		}
		return r.outbox.Enqueue(ctx, tx, domain.TopicUserRegistered, user.ID, user.ID, map[string]any{
			"role": string(user.Role),
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, fmt.Errorf("auth: create user: %w", err)
	}
	return user, nil
}

func (r *StoreRepository) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	user, err := r.store.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	return user, err
}

func (r *StoreRepository) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	user, err := r.store.GetUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	return user, err
}
