package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/contractdesk/audittrail/pkg/directory"
)

// CSV export conventions: semicolon delimiter and a UTF-8 byte-order mark,
// both for spreadsheet compatibility. encoding/csv applies standard quoting
// (fields containing the delimiter, a quote or a newline are wrapped in
// double quotes with inner quotes doubled).

// utf8BOM prefixes the export so spreadsheet software detects UTF-8.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// exportTimeFormat is human-readable and locale-stable; it is display-only
// and never re-parsed.
const exportTimeFormat = "02.01.2006 15:04:05"

// exportHeader is the fixed column order of every export.
var exportHeader = []string{
	"Timestamp",
	"User",
	"Email",
	"Action",
	"Entity Type",
	"Entity ID",
	"Contract Number",
	"Contract Title",
	"IP Address",
	"Old Value",
	"New Value",
}

// writeCSV renders events in export column order. dir may be nil; user and
// contract columns then fall back to placeholders.
func writeCSV(ctx context.Context, events []*Event, dir directory.Directory) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	writer := csv.NewWriter(&buf)
	writer.Comma = ';'

	if err := writer.Write(exportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for _, event := range events {
		userName, userEmail := resolveUser(ctx, dir, event.UserID)
		contractNumber, contractTitle := resolveContract(ctx, dir, event.ContractID)

		row := []string{
			event.CreatedAt.Format(exportTimeFormat),
			userName,
			userEmail,
			event.Action.Label(),
			string(event.EntityType),
			event.EntityID,
			contractNumber,
			contractTitle,
			event.IPAddress,
			string(event.OldValue),
			string(event.NewValue),
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	return buf.Bytes(), nil
}

func resolveUser(ctx context.Context, dir directory.Directory, userID string) (name, email string) {
	if dir == nil {
		return unknownUser, ""
	}
	u, err := dir.User(ctx, userID)
	if err != nil || u == nil {
		return unknownUser, ""
	}
	return u.FullName, u.Email
}

func resolveContract(ctx context.Context, dir directory.Directory, contractID *int64) (number, title string) {
	if contractID == nil || dir == nil {
		return "", ""
	}
	c, err := dir.Contract(ctx, *contractID)
	if err != nil || c == nil {
		return "", ""
	}
	return c.Number, c.Title
}
