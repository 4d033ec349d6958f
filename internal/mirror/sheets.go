// Package mirror copies new registrations into a Google Sheet for the operators.
package mirror

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/thedetect/universe-talk-bot/internal/domain"
)

// Sheet appends one row per registration.
type Sheet struct {
	svc           *sheets.Service
	spreadsheetID string
	rng           string
	log           *zap.Logger
}

// New builds a Sheet client. opts usually carry the service account credentials.
func New(ctx context.Context, spreadsheetID, rng string, log *zap.Logger, opts ...option.ClientOption) (*Sheet, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("empty spreadsheet id")
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	if rng == "" {
		rng = "Users!A:H"
	}
	return &Sheet{svc: svc, spreadsheetID: spreadsheetID, rng: rng, log: log}, nil
}

// RecordRegistration appends the user's row.
func (s *Sheet) RecordRegistration(ctx context.Context, u domain.User) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{Row(u)}}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append registration %d: %w", u.ID, err)
	}
	s.log.Debug("registration mirrored", zap.Int64("user_id", u.ID))
	return nil
}

// Row lays out the sheet columns: id, name, tz, send time, birth date, birth place,
// referred by, registered at.
func Row(u domain.User) []interface{} {
	sendAt := ""
	if u.SendAt != nil {
		sendAt = u.SendAt.String()
	}
	referredBy := ""
	if u.ReferredBy != nil {
		referredBy = strconv.FormatInt(*u.ReferredBy, 10)
	}
	return []interface{}{
		strconv.FormatInt(u.ID, 10),
		u.Name,
		u.TZ,
		sendAt,
		u.BirthDate,
		u.BirthPlace,
		referredBy,
		u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
