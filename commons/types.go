package commons

// Access rights, a page table entry's protection reduced to what the
// analysis consumer checks.
const (
	U_VAL    = uint8(0)
	X_VAL    = uint8(1)
	W_VAL    = uint8(1 << 1)
	R_VAL    = uint8(1 << 2)
	USER_VAL = uint8(1 << 4)
	DEF_VAL  = R_VAL | W_VAL | X_VAL
)

// RightsString renders rights the way they are written in configurations,
// e.g., "RW", "RX" or "U" for an unmapped page. A user page gets a "u" suffix.
func RightsString(prot uint8) string {
	if prot&DEF_VAL == 0 {
		return "U"
	}
	res := make([]byte, 0, 4)
	if prot&R_VAL != 0 {
		res = append(res, 'R')
	}
	if prot&W_VAL != 0 {
		res = append(res, 'W')
	}
	if prot&X_VAL != 0 {
		res = append(res, 'X')
	}
	if prot&USER_VAL != 0 {
		res = append(res, 'u')
	}
	return string(res)
}
