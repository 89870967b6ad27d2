package render

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// FormatValue converts a value returned by pgx into the text shown in a cell.
// nil renders as NULL; maps and slices render as JSON.
func FormatValue(v any) string {
	switch val := normalize(v).(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// normalize maps pgx-specific types onto nil, strings, and JSON-friendly values.
func normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		if special, ok := specialFloat(float64(val)); ok {
			return special
		}
		return val
	case float64:
		if special, ok := specialFloat(val); ok {
			return special
		}
		return val
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		us := val.Microseconds
		hours := us / 3_600_000_000
		us -= hours * 3_600_000_000
		minutes := us / 60_000_000
		us -= minutes * 60_000_000
		seconds := us / 1_000_000
		us -= seconds * 1_000_000
		if us > 0 {
			return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
		}
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		return formatInterval(val)
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		switch val.InfinityModifier {
		case pgtype.Infinity:
			return "Infinity"
		case pgtype.NegativeInfinity:
			return "-Infinity"
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return nil
		}
		return string(b)
	case pgtype.Range[any]:
		if !val.Valid {
			return nil
		}
		return formatRange(val)
	case pgtype.Point:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("(%g,%g)", val.P.X, val.P.Y)
	case pgtype.Box:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("(%g,%g),(%g,%g)", val.P[0].X, val.P[0].Y, val.P[1].X, val.P[1].Y)
	case pgtype.Circle:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("<(%g,%g),%g>", val.P.X, val.P.Y, val.R)
	case pgtype.Bits:
		if !val.Valid {
			return nil
		}
		out := make([]byte, val.Len)
		for i := int32(0); i < val.Len; i++ {
			if val.Bytes[i/8]&(1<<uint(7-i%8)) != 0 {
				out[i] = '1'
			} else {
				out[i] = '0'
			}
		}
		return string(out)
	case [16]byte:
		// uuid
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return val
	}
}

// specialFloat spells NaN and infinities the way PostgreSQL prints them.
func specialFloat(f float64) (string, bool) {
	switch {
	case math.IsNaN(f):
		return "NaN", true
	case math.IsInf(f, 1):
		return "Infinity", true
	case math.IsInf(f, -1):
		return "-Infinity", true
	}
	return "", false
}

func formatInterval(val pgtype.Interval) string {
	var parts []string
	if years := val.Months / 12; years != 0 {
		parts = append(parts, fmt.Sprintf("%d year(s)", years))
	}
	if months := val.Months % 12; months != 0 {
		parts = append(parts, fmt.Sprintf("%d mon(s)", months))
	}
	if val.Days != 0 {
		parts = append(parts, fmt.Sprintf("%d day(s)", val.Days))
	}
	if val.Microseconds != 0 {
		parts = append(parts, (time.Duration(val.Microseconds) * time.Microsecond).String())
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " ")
}

func formatRange(val pgtype.Range[any]) string {
	if val.LowerType == pgtype.Empty {
		return "empty"
	}
	var sb strings.Builder
	if val.LowerType == pgtype.Inclusive {
		sb.WriteByte('[')
	} else {
		sb.WriteByte('(')
	}
	if val.LowerType != pgtype.Unbounded {
		sb.WriteString(FormatValue(val.Lower))
	}
	sb.WriteByte(',')
	if val.UpperType != pgtype.Unbounded {
		sb.WriteString(FormatValue(val.Upper))
	}
	if val.UpperType == pgtype.Inclusive {
		sb.WriteByte(']')
	} else {
		sb.WriteByte(')')
	}
	return sb.String()
}
