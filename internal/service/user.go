package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kasouyosou/internal/apperr"
	"kasouyosou/internal/logger"
	"kasouyosou/internal/storage"
)

const maxNameLength = 50

// tombstonePrefix marks the names of deleted users.
const tombstonePrefix = "del_"

// UserService registers, looks up and deletes players.
type UserService struct {
	store *storage.Store
	rules Rules
	log   *zap.Logger
}

func NewUserService(store *storage.Store, rules Rules, log *zap.Logger) *UserService {
	return &UserService{store: store, rules: rules, log: logger.OrNop(log)}
}

// NewUser holds registration input
type NewUser struct {
	Name       string
	IsAI       bool
	TelegramID int64
}

// Create registers a user with the welcome balance.
func (s *UserService) Create(ctx context.Context, in NewUser, now time.Time) (*storage.User, error) {
	name := strings.TrimSpace(in.Name)
	if n := utf8.RuneCountInString(name); n == 0 || n > maxNameLength {
		return nil, apperr.New(apperr.KindInvalid, fmt.Sprintf("name must be 1 to %d characters", maxNameLength))
	}
	if strings.HasPrefix(strings.ToLower(name), tombstonePrefix) {
		return nil, apperr.New(apperr.KindInvalid, fmt.Sprintf("names starting with %q are reserved", tombstonePrefix))
	}

	u := &storage.User{
		UID:        uuid.NewString(),
		Name:       name,
		Points:     s.rules.DefaultPoints,
		IsAI:       in.IsAI,
		Status:     storage.UserStatusActive,
		TelegramID: in.TelegramID,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		if err := q.CreateUser(ctx, u); err != nil {
			return err
		}
		return q.InsertTransaction(ctx, u.UID, u.Points, storage.TxWelcomeBonus, "Welcome bonus", now)
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, apperr.Wrap(apperr.KindConflict, fmt.Sprintf("name %q is already taken", name), err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to create user", err)
	}

	s.log.Info("user_created", zap.String("user_uid", u.UID), zap.String("name", u.Name), zap.Bool("is_ai", u.IsAI))
	return u, nil
}

// Delete soft-deletes a user. The name is released by renaming it to a tombstone.
func (s *UserService) Delete(ctx context.Context, uid string, now time.Time) error {
	parsed, err := uuid.Parse(uid)
	if err != nil {
		return apperr.New(apperr.KindInvalid, "uid is not a valid uuid")
	}

	u, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to load user", err)
	}
	if u == nil {
		return apperr.New(apperr.KindNotFound, "user does not exist")
	}
	if u.Deleted() {
		return apperr.New(apperr.KindDeleted, "user is already deleted")
	}

	tombstone := tombstonePrefix + strings.ReplaceAll(parsed.String(), "-", "")
	ok, err := s.store.SoftDeleteUser(ctx, uid, tombstone, now)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to delete user", err)
	}
	if !ok {
		return apperr.New(apperr.KindDeleted, "user is already deleted")
	}

	s.log.Info("user_deleted", zap.String("user_uid", uid), zap.String("name", u.Name))
	return nil
}

// Lookup returns an active user by uid.
func (s *UserService) Lookup(ctx context.Context, uid string) (*storage.User, error) {
	u, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to load user", err)
	}
	if u == nil || u.Deleted() {
		return nil, apperr.New(apperr.KindNotFound, "user does not exist")
	}
	return u, nil
}

// ByTelegram returns the active user linked to a Telegram account; nil when unlinked.
func (s *UserService) ByTelegram(ctx context.Context, telegramID int64) (*storage.User, error) {
	u, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to load user", err)
	}
	if u == nil || u.Deleted() {
		return nil, nil
	}
	return u, nil
}

// History returns the user's latest predictions with their round outcomes.
func (s *UserService) History(ctx context.Context, uid string, limit int) ([]storage.PredictionHistoryItem, error) {
	if _, err := s.Lookup(ctx, uid); err != nil {
		return nil, err
	}
	items, err := s.store.ListUserPredictions(ctx, uid, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to load history", err)
	}
	if items == nil {
		items = []storage.PredictionHistoryItem{}
	}
	return items, nil
}
