package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prepaidly/prepaidly/internal/encryption"
	"github.com/prepaidly/prepaidly/internal/eventbus"
	"github.com/prepaidly/prepaidly/internal/models"
	"github.com/prepaidly/prepaidly/internal/oauthstate"
	"github.com/prepaidly/prepaidly/internal/xero"
)

// RefreshMargin is how close to expiry an access token may get before it is
// refreshed on use
const RefreshMargin = 5 * time.Minute

const refreshLockTTL = 30 * time.Second

// OAuthProvider is the identity side of Xero used by TokenService
type OAuthProvider interface {
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (*xero.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*xero.Token, error)
	Connections(ctx context.Context, accessToken string) ([]xero.Tenant, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// TokenService owns the lifecycle of Xero connections: authorization,
// encrypted storage, refresh and disconnection. It is the only producer of
// access tokens for API calls, shared by the API server and the worker.
type TokenService struct {
	db     *gorm.DB
	oauth  OAuthProvider
	states oauthstate.Store
	enc    *encryption.Encryptor
	events eventbus.EventBus
	locker *redislock.Client
	logger *zap.Logger
	tracer trace.Tracer
	clock  func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(db *gorm.DB, oauth OAuthProvider, states oauthstate.Store, enc *encryption.Encryptor, events eventbus.EventBus, logger *zap.Logger) *TokenService {
	return &TokenService{
		db:     db,
		oauth:  oauth,
		states: states,
		enc:    enc,
		events: events,
		logger: logger,
		tracer: otel.Tracer("token-service"),
		clock:  time.Now,
	}
}

// WithLocker serializes refreshes of the same connection across processes
func (s *TokenService) WithLocker(locker *redislock.Client) *TokenService {
	s.locker = locker
	return s
}

// AuthorizationURL stores a fresh CSRF state for userID and returns the Xero
// consent URL carrying it
func (s *TokenService) AuthorizationURL(ctx context.Context, userID uuid.UUID) (string, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	if count == 0 {
		return "", fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}

	state, err := s.states.StoreState(ctx, userID.String())
	if err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	return s.oauth.AuthorizationURL(state), nil
}

// HandleCallback completes the authorization-code flow. The state must have
// been issued to userID and not used before. Every tenant the user granted
// access to gets a CONNECTED connection holding the new tokens.
func (s *TokenService) HandleCallback(ctx context.Context, code, state string, userID uuid.UUID) ([]models.XeroConnection, error) {
	ctx, span := s.tracer.Start(ctx, "token.callback")
	defer span.End()

	if code == "" {
		return nil, invalid("authorization code is required")
	}
	if !s.states.ValidateState(ctx, state, userID.String()) {
		return nil, ErrInvalidState
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	tenants, err := s.oauth.Connections(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenants: %w", err)
	}
	if len(tenants) == 0 {
		return nil, fmt.Errorf("xero returned no authorized tenants")
	}

	access, refresh, err := s.encryptPair(tok)
	if err != nil {
		return nil, err
	}

	connections := make([]models.XeroConnection, 0, len(tenants))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, tenant := range tenants {
			var conn models.XeroConnection
			err := tx.Where("user_id = ? AND tenant_id = ?", userID, tenant.TenantID).First(&conn).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to load connection: %w", err)
			}

			conn.UserID = userID
			conn.TenantID = tenant.TenantID
			conn.TenantName = tenant.TenantName
			conn.AccessToken = access
			conn.RefreshToken = refresh
			conn.ExpiresAt = tok.ExpiresAt
			conn.ConnectionStatus = models.ConnectionStatusConnected
			conn.DisconnectReason = ""

			if err := tx.Save(&conn).Error; err != nil {
				return fmt.Errorf("failed to save connection: %w", err)
			}
			connections = append(connections, conn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Xero authorization completed",
		zap.String("user_id", userID.String()),
		zap.Int("tenants", len(connections)))
	return connections, nil
}

// Refresh rotates the tokens of conn and updates it in place. An
// invalid_grant response marks the connection DISCONNECTED; any other
// failure leaves its status unchanged.
func (s *TokenService) Refresh(ctx context.Context, conn *models.XeroConnection) error {
	ctx, span := s.tracer.Start(ctx, "token.refresh", trace.WithAttributes(
		attribute.String("xero.tenant_id", conn.TenantID),
	))
	defer span.End()

	if !conn.IsConnected() {
		return ErrNotConnected
	}

	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, "lock:xero:refresh:"+conn.ID.String(), refreshLockTTL, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 100),
		})
		if err != nil {
			return fmt.Errorf("failed to lock connection for refresh: %w", err)
		}
		defer lock.Release(context.Background())

		// The lock holder before us may have rotated the refresh token.
		if err := s.db.WithContext(ctx).Where("id = ?", conn.ID).First(conn).Error; err != nil {
			return fmt.Errorf("failed to reload connection: %w", err)
		}
		if !conn.IsConnected() {
			return ErrNotConnected
		}
	}

	refreshToken, err := s.enc.Decrypt(conn.RefreshToken)
	if err != nil {
		// Undecryptable tokens never become usable again.
		if markErr := s.markDisconnected(ctx, conn, "stored refresh token could not be decrypted"); markErr != nil {
			return markErr
		}
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	tok, err := s.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, xero.ErrInvalidGrant) {
			if markErr := s.markDisconnected(ctx, conn, "invalid_grant: refresh token expired or revoked"); markErr != nil {
				return markErr
			}
			return fmt.Errorf("refresh token rejected: %w", err)
		}
		s.logger.Warn("Token refresh failed",
			zap.String("connection_id", conn.ID.String()),
			zap.String("tenant_id", conn.TenantID),
			zap.Error(err))
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	access, refresh, err := s.encryptPair(tok)
	if err != nil {
		return err
	}

	// Access token, refresh token and expiry change in a single statement.
	err = s.db.WithContext(ctx).Model(&models.XeroConnection{}).
		Where("id = ?", conn.ID).
		Updates(map[string]interface{}{
			"access_token":  access,
			"refresh_token": refresh,
			"expires_at":    tok.ExpiresAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	conn.AccessToken = access
	conn.RefreshToken = refresh
	conn.ExpiresAt = tok.ExpiresAt

	s.logger.Info("Token refreshed",
		zap.String("connection_id", conn.ID.String()),
		zap.String("tenant_id", conn.TenantID),
		zap.Time("expires_at", tok.ExpiresAt))
	return nil
}

// GetValidAccessToken returns the decrypted access token of conn, refreshing
// first when it expires within RefreshMargin
func (s *TokenService) GetValidAccessToken(ctx context.Context, conn *models.XeroConnection) (string, error) {
	if !conn.IsConnected() {
		return "", ErrNotConnected
	}

	if conn.NeedsRefresh(s.clock(), RefreshMargin) {
		if err := s.Refresh(ctx, conn); err != nil {
			return "", err
		}
	}

	token, err := s.enc.Decrypt(conn.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return token, nil
}

// AccessTokenForTenant returns a valid access token for tenantID
func (s *TokenService) AccessTokenForTenant(ctx context.Context, tenantID string) (string, error) {
	conn, err := s.ConnectionForTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return s.GetValidAccessToken(ctx, conn)
}

// ConnectionForTenant returns the most recently updated CONNECTED
// connection to tenantID
func (s *TokenService) ConnectionForTenant(ctx context.Context, tenantID string) (*models.XeroConnection, error) {
	if tenantID == "" {
		return nil, invalid("tenant id is required")
	}

	var conn models.XeroConnection
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND connection_status = ?", tenantID, models.ConnectionStatusConnected).
		Order("updated_at DESC").
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: tenant %s", ErrNotConnected, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return &conn, nil
}

// ListConnections returns every connection of userID, in any status
func (s *TokenService) ListConnections(ctx context.Context, userID uuid.UUID) ([]models.XeroConnection, error) {
	var connections []models.XeroConnection
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("tenant_name ASC").
		Find(&connections).Error; err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return connections, nil
}

// Disconnect revokes the tokens of the user's connection to tenantID and
// deletes it. Revocation is best effort.
func (s *TokenService) Disconnect(ctx context.Context, userID uuid.UUID, tenantID string) error {
	var conn models.XeroConnection
	err := s.db.WithContext(ctx).Where("user_id = ? AND tenant_id = ?", userID, tenantID).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: connection to tenant %s", ErrNotFound, tenantID)
	}
	if err != nil {
		return fmt.Errorf("failed to load connection: %w", err)
	}

	if refreshToken, err := s.enc.Decrypt(conn.RefreshToken); err == nil {
		if err := s.oauth.Revoke(ctx, refreshToken); err != nil {
			s.logger.Warn("Token revocation failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	if err := s.db.WithContext(ctx).Delete(&conn).Error; err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	s.logger.Info("Xero connection removed",
		zap.String("user_id", userID.String()),
		zap.String("tenant_id", tenantID))
	return nil
}

func (s *TokenService) markDisconnected(ctx context.Context, conn *models.XeroConnection, reason string) error {
	err := s.db.WithContext(ctx).Model(&models.XeroConnection{}).
		Where("id = ?", conn.ID).
		Updates(map[string]interface{}{
			"connection_status": models.ConnectionStatusDisconnected,
			"disconnect_reason": reason,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark connection disconnected: %w", err)
	}

	conn.ConnectionStatus = models.ConnectionStatusDisconnected
	conn.DisconnectReason = reason

	s.logger.Warn("Xero connection disconnected",
		zap.String("connection_id", conn.ID.String()),
		zap.String("tenant_id", conn.TenantID),
		zap.String("reason", reason))

	publish(ctx, s.events, s.logger, eventbus.TopicConnectionDisconnected, ConnectionDisconnectedEvent{
		ConnectionID: conn.ID.String(),
		UserID:       conn.UserID.String(),
		TenantID:     conn.TenantID,
		Reason:       reason,
	})
	return nil
}

func (s *TokenService) encryptPair(tok *xero.Token) (string, string, error) {
	access, err := s.enc.Encrypt(tok.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.enc.Encrypt(tok.RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return access, refresh, nil
}
