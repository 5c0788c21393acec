package autofill

import (
	"fmt"
	"sort"
	"strings"
)

// TfFullyCanonicalSig is accepted on every transaction type
const TfFullyCanonicalSig uint32 = 0x80000000

var universalFlags = map[string]uint32{
	"tfFullyCanonicalSig": TfFullyCanonicalSig,
}

// flagTables maps transaction types to their named flags
var flagTables = map[string]map[string]uint32{
	"Payment": {
		"tfNoRippleDirect": 0x00010000,
		"tfPartialPayment": 0x00020000,
		"tfLimitQuality":   0x00040000,
	},
	"TrustSet": {
		"tfSetfAuth":      0x00010000,
		"tfSetNoRipple":   0x00020000,
		"tfClearNoRipple": 0x00040000,
		"tfSetFreeze":     0x00100000,
		"tfClearFreeze":   0x00200000,
	},
	"AccountSet": {
		"tfRequireDestTag":  0x00010000,
		"tfOptionalDestTag": 0x00020000,
		"tfRequireAuth":     0x00040000,
		"tfOptionalAuth":    0x00080000,
		"tfDisallowXRP":     0x00100000,
		"tfAllowXRP":        0x00200000,
	},
	"NFTokenMint": {
		"tfBurnable":     0x00000001,
		"tfOnlyXRP":      0x00000002,
		"tfTrustLine":    0x00000004,
		"tfTransferable": 0x00000008,
	},
	"NFTokenCreateOffer": {
		"tfSellNFToken": 0x00000001,
	},
	"NFTokenAcceptOffer": {},
	"NFTokenBurn":        {},
	"NFTokenCancelOffer": {},
}

// AccountSet SetFlag/ClearFlag values
var accountSetFlags = map[string]uint32{
	"asfRequireDest":                  1,
	"asfRequireAuth":                  2,
	"asfDisallowXRP":                  3,
	"asfDisableMaster":                4,
	"asfAccountTxnID":                 5,
	"asfNoFreeze":                     6,
	"asfGlobalFreeze":                 7,
	"asfDefaultRipple":                8,
	"asfDepositAuth":                  9,
	"asfAuthorizedNFTokenMinter":      10,
	"asfDisallowIncomingNFTokenOffer": 12,
	"asfDisallowIncomingCheck":        13,
	"asfDisallowIncomingPayChan":      14,
	"asfDisallowIncomingTrustline":    15,
	"asfAllowTrustLineClawback":       16,
}

// FlagValue returns the numeric value of a named flag for a transaction type
func FlagValue(txType, name string) (uint32, error) {
	if v, ok := universalFlags[name]; ok {
		return v, nil
	}
	if table, ok := flagTables[txType]; ok {
		if v, ok := table[name]; ok {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown flag %s for %s", name, txType)
}

// AccountSetFlag returns the numeric value of an asf flag name
func AccountSetFlag(name string) (uint32, error) {
	if v, ok := accountSetFlags[name]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown account flag %s", name)
}

// NormalizeFlags converts the Flags field to its wire-level numeric value. Accepted forms:
// absent (0), a number, a list of flag names, or a map of flag name to bool.
func NormalizeFlags(txType string, raw interface{}) (uint32, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case uint32:
		return v, nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative flags %d", v)
		}
		return uint32(v), nil
	case int64:
		if v < 0 || v > 0xFFFFFFFF {
			return 0, fmt.Errorf("flags %d out of range", v)
		}
		return uint32(v), nil
	case float64:
		if v < 0 || v > 0xFFFFFFFF || v != float64(uint32(v)) {
			return 0, fmt.Errorf("flags %v out of range", v)
		}
		return uint32(v), nil
	case interface{ Int64() (int64, error) }:
		n, err := v.Int64()
		if err != nil || n < 0 || n > 0xFFFFFFFF {
			return 0, fmt.Errorf("flags %v out of range", v)
		}
		return uint32(n), nil
	case string:
		return namesToFlags(txType, strings.Split(v, "|"))
	case []string:
		return namesToFlags(txType, v)
	case []interface{}:
		names := make([]string, 0, len(v))
		for _, n := range v {
			s, ok := n.(string)
			if !ok {
				return 0, fmt.Errorf("flag list contains %T", n)
			}
			names = append(names, s)
		}
		return namesToFlags(txType, names)
	case map[string]bool:
		return setToFlags(txType, v)
	case map[string]interface{}:
		set := make(map[string]bool, len(v))
		for name, on := range v {
			b, ok := on.(bool)
			if !ok {
				return 0, fmt.Errorf("flag %s must be a bool", name)
			}
			set[name] = b
		}
		return setToFlags(txType, set)
	}
	return 0, fmt.Errorf("unsupported flags value %T", raw)
}

func namesToFlags(txType string, names []string) (uint32, error) {
	var flags uint32
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		v, err := FlagValue(txType, name)
		if err != nil {
			return 0, err
		}
		flags |= v
	}
	return flags, nil
}

func setToFlags(txType string, set map[string]bool) (uint32, error) {
	names := make([]string, 0, len(set))
	for name, on := range set {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return namesToFlags(txType, names)
}
