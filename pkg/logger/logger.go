package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

// New creates a new logger instance
func New(level string) *Logger {
	log := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	// Set output format
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	// Set output destination
	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// WithFields creates a new logger entry with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithField creates a new logger entry with a single field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithError creates a new logger entry with an error field
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

// WithClaimID creates a new logger entry with a claim ID field
func (l *Logger) WithClaimID(claimID string) *logrus.Entry {
	return l.Logger.WithField("claim_id", claimID)
}

// WithComponent creates a new logger entry with component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// ClaimEvent logs a claim lifecycle event with structured format
func (l *Logger) ClaimEvent(claimID, fromStatus, toStatus, reason string) {
	l.Logger.WithFields(logrus.Fields{
		"claim_event": true,
		"claim_id":    claimID,
		"from_status": fromStatus,
		"to_status":   toStatus,
		"reason":      reason,
	}).Info("Claim state changed")
}

// Decision logs an adjudication decision
func (l *Logger) Decision(claimID string, status string, reason string, allowedTotal, billedTotal int64) {
	l.Logger.WithFields(logrus.Fields{
		"adjudication":  true,
		"claim_id":      claimID,
		"status":        status,
		"reason":        reason,
		"allowed_total": allowedTotal,
		"billed_total":  billedTotal,
	}).Info("Claim adjudicated")
}

// LedgerTransaction logs ledger transaction events
func (l *Logger) LedgerTransaction(claimID, txHash string, success bool, details map[string]interface{}) {
	entry := l.Logger.WithFields(logrus.Fields{
		"ledger":   true,
		"claim_id": claimID,
		"tx_hash":  txHash,
		"success":  success,
		"details":  details,
	})

	if success {
		entry.Info("Ledger transaction completed")
	} else {
		entry.Error("Ledger transaction failed")
	}
}

// DatabaseOperation logs database operation events
func (l *Logger) DatabaseOperation(operation, table string, duration int64, success bool) {
	entry := l.Logger.WithFields(logrus.Fields{
		"database":    true,
		"operation":   operation,
		"table":       table,
		"duration_ms": duration,
		"success":     success,
	})

	if success {
		entry.Debug("Database operation completed")
	} else {
		entry.Error("Database operation failed")
	}
}

// HTTPRequest logs HTTP request events
func (l *Logger) HTTPRequest(method, path, clientIP string, statusCode int, duration int64) {
	entry := l.Logger.WithFields(logrus.Fields{
		"http_request": true,
		"method":       method,
		"path":         path,
		"client_ip":    clientIP,
		"status_code":  statusCode,
		"duration_ms":  duration,
	})

	if statusCode >= 400 {
		entry.Warn("HTTP request completed with error")
	} else {
		entry.Info("HTTP request completed")
	}
}

// Invariant logs a data-integrity violation. These are never silently
// corrected; the claim involved is frozen pending manual review.
func (l *Logger) Invariant(claimID, code string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"invariant": true,
		"claim_id":  claimID,
		"code":      code,
		"details":   details,
	}).Error("Invariant violation")
}
