package cadastre

import (
	"strconv"
	"strings"
	"time"
)

// lifespanLayout is the date shape used by the upstream INSPIRE exports.
const lifespanLayout = "02/01/2006"

// DecodeReference derives the sheet and parcel numbers from a national
// cadastral reference and its raw label.
//
// For map layers the sheet number is the numeric label itself. For parcel
// layers the reference has the shape <comune>_<digits>.<suffix>; the sheet
// number is the digit run before the first dot divided by 100 and truncated
// (digits "000400" decode to foglio 4). Anything that does not match decodes
// to foglio 0, a sentinel for "unparseable" rather than an error.
//
// The parcel number is the numeric value of the label when it is fully
// numeric, nil otherwise; alphanumeric labels such as road or canal
// identifiers survive verbatim in the record's Label field only.
func DecodeReference(layer LayerType, nationalRef, label string) (foglio int, particella *int) {
	switch layer {
	case LayerMap:
		if n, err := strconv.Atoi(strings.TrimSpace(label)); err == nil {
			foglio = n
		}
		return foglio, nil
	case LayerParcel:
		foglio = parcelFoglio(nationalRef)
		if n, err := strconv.Atoi(strings.TrimSpace(label)); err == nil {
			particella = &n
		}
		return foglio, particella
	default:
		return 0, nil
	}
}

// parcelFoglio extracts the sheet number from a parcel reference of the shape
// <comune>_<digits>.<suffix>.
func parcelFoglio(ref string) int {
	underscore := strings.Index(ref, "_")
	dot := strings.Index(ref, ".")
	if underscore < 0 || dot < 0 || dot <= underscore+1 {
		return 0
	}
	digits := ref[underscore+1 : dot]
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0
	}
	return n / 100
}

// ParseLifespan parses a DD/MM/YYYY lifespan date. Any other shape, or an
// empty string, yields nil rather than an error so a bad date never rejects
// a row on its own.
func ParseLifespan(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(lifespanLayout, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
