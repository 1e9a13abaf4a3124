package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hitoshi/passport/internal/metrics"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
	"github.com/hitoshi/passport/internal/token"
)

// RejectReason はアクセストークンを拒否した理由。ログとメトリクスにのみ使い、クライアントには返さない。
type RejectReason string

const (
	RejectExpired      RejectReason = "expired"
	RejectInvalid      RejectReason = "invalid"
	RejectUnauthorized RejectReason = "unauthorized"
	RejectRevoked      RejectReason = "revoked"
)

// RejectError はトークン検証で拒否されたことを表す。
type RejectError struct {
	Reason RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("access token rejected: %s", e.Reason)
}

// IsRejected はerrがトークン拒否かを返す。
func IsRejected(err error) bool {
	var rejectErr *RejectError
	return errors.As(err, &rejectErr)
}

// Validator はアクセストークンを検証し、失効エポックと照合する。
type Validator struct {
	issuer  *token.Issuer
	repo    repository.IdentityRepository
	metrics metrics.MetricsCollector
}

// NewValidator はValidatorを生成する。
func NewValidator(issuer *token.Issuer, repo repository.IdentityRepository, m metrics.MetricsCollector) *Validator {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Validator{issuer: issuer, repo: repo, metrics: m}
}

// Validate はアクセストークンを検証してIdentityを返す。
// 拒否の場合は*RejectError、ストア障害などはそれ以外のエラーを返す。
//
// 検証順序:
//  1. 署名・有効期限・iss・aud
//  2. subとiatの存在
//  3. subのIdentityの存在
//  4. iatが失効エポック以前でないこと
func (v *Validator) Validate(ctx context.Context, accessToken string) (*model.Identity, error) {
	ctx, span := tracer.Start(ctx, "auth.Validate")
	defer span.End()

	claims, err := v.issuer.ParseAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, v.reject(ctx, RejectExpired)
		}
		return nil, v.reject(ctx, RejectInvalid)
	}

	identity, err := v.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if identity == nil {
		return nil, v.reject(ctx, RejectUnauthorized)
	}

	if identity.IsRevokedAt(claims.IssuedAtTime()) {
		slog.Info("revoked access token presented", slog.String("user_id", identity.ID))
		return nil, v.reject(ctx, RejectRevoked)
	}

	span.SetAttributes(attribute.String("user.id", identity.ID))
	v.metrics.RecordTokenValidation(metrics.ResultSuccess)
	return identity, nil
}

func (v *Validator) reject(ctx context.Context, reason RejectReason) error {
	spanFromContext(ctx).SetAttributes(attribute.String("auth.reject_reason", string(reason)))
	v.metrics.RecordTokenValidation(string(reason))
	return &RejectError{Reason: reason}
}
