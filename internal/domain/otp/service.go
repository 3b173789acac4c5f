// Package otp signs patients in with one-time codes sent to their phone.
package otp

import (
	"context"
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
	"github.com/care/emr/internal/platform/notification"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

type Config struct {
	// Length is the number of digits in a code.
	Length int
	// RepeatWindow and MaxRepeats cap the unused codes a phone can hold.
	RepeatWindow time.Duration
	MaxRepeats   int
	// Expiry bounds how long a code can be used to log in.
	Expiry time.Duration
}

type TokenIssuer interface {
	IssuePatientOTP(phone, tenantID string) (string, error)
}

type Service struct {
	repo      Repository
	sms       notification.SMSSender
	templates *notification.TemplateEngine
	tokens    TokenIssuer
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
	// cost is the bcrypt cost of stored hashes.
	cost int
}

func NewService(repo Repository, sms notification.SMSSender, tokens TokenIssuer, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Length <= 0 {
		cfg.Length = 5
	}
	return &Service{
		repo:      repo,
		sms:       sms,
		templates: notification.NewTemplateEngine(),
		tokens:    tokens,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		cost:      bcrypt.DefaultCost,
	}
}

func normalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if !phonePattern.MatchString(phone) {
		return "", apperr.Validation("invalid phone number",
			apperr.FieldError{Type: "value_error", Loc: "phone_number", Msg: "Invalid phone number"})
	}
	return phone, nil
}

// generate returns n random decimal digits.
func generate(n int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// Send issues a new code for phone unless it already holds MaxRepeats unused
// codes from the repeat window.
func (s *Service) Send(ctx context.Context, phone string) error {
	phone, err := normalizePhone(phone)
	if err != nil {
		return err
	}
	n, err := s.repo.CountUnused(ctx, phone, s.now().Add(-s.cfg.RepeatWindow))
	if err != nil {
		return err
	}
	if n >= s.cfg.MaxRepeats {
		s.logger.Warn().Str("phone_number", phone).Int("unused", n).Msg("otp rate limited")
		return apperr.RateLimited("phone_number", "Max Retries has exceeded")
	}
	code, err := generate(s.cfg.Length)
	if err != nil {
		return apperr.Internal(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return apperr.Internal(err)
	}
	body, err := s.templates.Render(notification.TemplateOTP, map[string]string{
		"otp":     code,
		"minutes": strconv.Itoa(int(s.cfg.Expiry.Minutes())),
	})
	if err != nil {
		return apperr.Internal(err)
	}
	o := &OTP{PhoneNumber: phone, Hash: string(hash)}
	if err := s.repo.Create(ctx, o); err != nil {
		return err
	}
	if err := s.sms.SendSMS(ctx, phone, body); err != nil {
		s.logger.Error().Err(err).Str("phone_number", phone).Msg("otp sms failed")
		// An undelivered code must not count toward the repeat limit.
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), o.ID); delErr != nil {
			s.logger.Error().Err(delErr).Int64("otp_id", o.ID).Msg("failed to discard undelivered otp")
		}
		return apperr.Internal(err)
	}
	s.logger.Info().Str("phone_number", phone).Msg("otp sent")
	return nil
}

// Login exchanges a valid unused code for a patient token. Each code works
// once.
func (s *Service) Login(ctx context.Context, phone, code string) (*LoginResponse, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return nil, err
	}
	candidates, err := s.repo.ListUnused(ctx, phone, s.now().Add(-s.cfg.Expiry))
	if err != nil {
		return nil, err
	}
	for _, o := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(o.Hash), []byte(code)) != nil {
			continue
		}
		ok, err := s.repo.MarkUsed(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		token, err := s.tokens.IssuePatientOTP(phone, db.TenantFromContext(ctx))
		if err != nil {
			return nil, apperr.Internal(err)
		}
		s.logger.Info().Str("phone_number", phone).Msg("otp login")
		return &LoginResponse{Access: token}, nil
	}
	return nil, apperr.Validation("invalid otp",
		apperr.FieldError{Type: "value_error", Loc: "otp", Msg: "Invalid OTP"})
}
