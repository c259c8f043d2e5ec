package cli

import (
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tOgg1/leadsync/internal/models"
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJSONLine writes one compact record, for streaming output.
func writeJSONLine(out io.Writer, v any) error {
	return json.NewEncoder(out).Encode(v)
}

func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func formatMoney(v *float64) string {
	if v == nil {
		return "-"
	}
	return humanize.CommafWithDigits(*v, 2)
}

func formatOptional(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}

func formatUnread(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func directionArrow(d models.Direction) string {
	if d == models.DirectionOutbound {
		return "→"
	}
	return "←"
}
