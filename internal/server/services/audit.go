package services

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"time"

	"github.com/mzakharov/filevault/internal/logging"
	"github.com/mzakharov/filevault/internal/server/models"
	"github.com/mzakharov/filevault/internal/server/notify"
	"github.com/mzakharov/filevault/internal/server/repositories/logins"
	"github.com/mzakharov/filevault/internal/server/repositories/repomanager"
)

// Anomaly reasons reported by EvaluateLogin. Several can co-occur and all
// are reported, not just the first.
const (
	ReasonNewIP             = "new-ip"
	ReasonNewDevice         = "new-device"
	ReasonImplausibleTravel = "implausible-travel"
)

// maxTravelSpeedKmh is the geo-velocity threshold: consecutive logins that
// would require faster travel than a commercial flight are flagged.
// Distances under minTravelDistanceKm are ignored, IP geolocation is too
// coarse to time short hops.
const (
	maxTravelSpeedKmh   = 900.0
	minTravelDistanceKm = 100.0
)

// LoginAssessment is the advisory result of anomaly evaluation. It never
// blocks the login itself.
type LoginAssessment struct {
	Suspicious bool
	Reasons    []string
}

// AuditService records activity events and evaluates logins against each
// user's recent login window. Recording is best-effort: a failed write is
// logged for monitoring but never rolls back the primary action.
type AuditService struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	loginRepo logins.Repository
	notifier  *notify.Async
	logger    logging.Logger
}

// NewAuditService wires the audit layer.
func NewAuditService(db *sql.DB, repos repomanager.RepositoryManager,
	loginRepo logins.Repository, notifier *notify.Async, logger logging.Logger) *AuditService {
	return &AuditService{db: db, repos: repos, loginRepo: loginRepo, notifier: notifier, logger: logger}
}

// Record appends an activity entry. It never fails the triggering
// operation.
func (s *AuditService) Record(ctx context.Context, entry *models.ActivityLogEntry) {
	if err := s.repos.Activity(s.db).Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn(ctx, "activity log write failed",
			"action", string(entry.Action), "entity_id", entry.EntityID, "error", err.Error())
	}
}

// RecentActivity returns a user's latest audit entries for operator review.
func (s *AuditService) RecentActivity(ctx context.Context, userID string, limit int) ([]*models.ActivityLogEntry, error) {
	return s.repos.Activity(s.db).ListByUser(ctx, userID, limit)
}

// EvaluateLogin compares a new login against the user's recent window and
// returns an advisory assessment. The very first recorded login is never
// suspicious. Detection failures degrade to Normal: an imperfect heuristic
// must not lock out a legitimate user.
func (s *AuditService) EvaluateLogin(ctx context.Context, userID, ip, userAgent string, loc *models.GeoPoint) *LoginAssessment {
	assessment := &LoginAssessment{}

	now := time.Now()
	rec := &models.LoginRecord{
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		Location:  loc,
		CreatedAt: now,
	}

	window, err := s.loginRepo.Recent(ctx, userID)
	if err != nil {
		s.logger.Warn(ctx, "login window lookup failed", "user_id", userID, "error", err.Error())
		window = nil
	}

	if len(window) > 0 {
		ipSeen, deviceSeen := false, false
		for _, prev := range window {
			if prev.IP == ip {
				ipSeen = true
			}
			if prev.UserAgent == userAgent {
				deviceSeen = true
			}
		}
		if !ipSeen {
			assessment.Reasons = append(assessment.Reasons, ReasonNewIP)
		}
		if !deviceSeen {
			assessment.Reasons = append(assessment.Reasons, ReasonNewDevice)
		}

		// geo-velocity against the most recent located login
		if loc != nil {
			for _, prev := range window {
				if prev.Location == nil {
					continue
				}
				km := haversineKm(*prev.Location, *loc)
				hours := now.Sub(prev.CreatedAt).Hours()
				if km > minTravelDistanceKm && hours > 0 && km/hours > maxTravelSpeedKmh {
					assessment.Reasons = append(assessment.Reasons, ReasonImplausibleTravel)
				}
				break
			}
		}
	}
	assessment.Suspicious = len(assessment.Reasons) > 0

	if err := s.loginRepo.Append(ctx, rec); err != nil {
		s.logger.Warn(ctx, "login record append failed", "user_id", userID, "error", err.Error())
	}

	s.Record(ctx, &models.ActivityLogEntry{
		UserID:    userID,
		Action:    models.ActionLogin,
		Outcome:   models.OutcomeSuccess,
		IP:        ip,
		UserAgent: userAgent,
		Detail:    strings.Join(assessment.Reasons, ","),
	})

	if assessment.Suspicious {
		s.notifier.Send(userID, notify.EventSuspiciousLogin, map[string]string{
			"ip":      ip,
			"reasons": strings.Join(assessment.Reasons, ","),
		})
	}

	return assessment
}

// RecordLoginFailure audits a rejected credential check. Brute-force rate
// limiting itself belongs to an external collaborator.
func (s *AuditService) RecordLoginFailure(ctx context.Context, userID string, client ClientInfo) {
	s.Record(ctx, &models.ActivityLogEntry{
		UserID:    userID,
		Action:    models.ActionLoginFailed,
		Outcome:   models.OutcomeFailure,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
}

// RecordPasswordReset audits a completed password reset.
func (s *AuditService) RecordPasswordReset(ctx context.Context, userID string, client ClientInfo) {
	s.Record(ctx, &models.ActivityLogEntry{
		UserID:    userID,
		Action:    models.ActionPasswordReset,
		Outcome:   models.OutcomeSuccess,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
}

// haversineKm is the great-circle distance between two coarse locations.
func haversineKm(a, b models.GeoPoint) float64 {
	const earthRadiusKm = 6371.0

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
