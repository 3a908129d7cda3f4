package services

import (
	"errors"
	"fmt"
	stdmath "math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"walletguard-lab/internal/domain/models"
)

// ErrInvalidInput is returned by analyzers for malformed input.
// Callers must not raise emergencies for it.
var ErrInvalidInput = errors.New("invalid input")

// Approval reasons
const (
	ReasonUnlimitedApproval   = "Unlimited approval - can drain entire token balance"
	ReasonUnlimitedAndUnknown = "Combination: unlimited approval to unknown contract - HIGH RISK"
	ReasonNoSwapAfterApproval = "Approval made but no swap detected"
)

// ApproveSelector is the 4-byte selector of ERC-20 approve(address,uint256)
const ApproveSelector = "0x095ea7b3"

// abuseWindow bounds how soon after an approval a spender transfer is suspicious
const abuseWindow = 5 * time.Minute

// knownSpenders are well-known router and aggregator contracts (lowercase)
var knownSpenders = map[string]string{
	"0x1111111254fb6c44bac0bed2854e76f90643097d": "1inch",
	"0xe592427a0aece92de3edee1f18e0157c05861564": "Uniswap V3",
	"0x68b3465833fb72b5a828cced3294860b313b67c5": "Uniswap V2/V3",
	"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": "Uniswap V2",
}

var maxUint64 = new(big.Int).SetUint64(stdmath.MaxUint64)

const tokenCallsABI = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"setApprovalForAll","type":"function","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`

var callDescriptions = map[string]string{
	"transfer":          "Transfer tokens to an address",
	"approve":           "Approve an address to spend your tokens",
	"transferFrom":      "Transfer tokens from one address to another",
	"setApprovalForAll": "Allow an operator to move all of your NFTs in this collection",
}

// ApprovalAnalyzer classifies ERC-20 approvals
type ApprovalAnalyzer struct {
	tokenABI abi.ABI
}

// NewApprovalAnalyzer creates a new approval analyzer
func NewApprovalAnalyzer() *ApprovalAnalyzer {
	parsed, err := abi.JSON(strings.NewReader(tokenCallsABI))
	if err != nil {
		panic(fmt.Sprintf("invalid token ABI: %v", err))
	}
	return &ApprovalAnalyzer{tokenABI: parsed}
}

// ParseAmount parses a decimal or 0x-prefixed hex uint256
func ParseAmount(amount string) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidInput)
	}
	n, ok := math.ParseBig256(s)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount %q is not a uint256", ErrInvalidInput, amount)
	}
	return n, nil
}

// IsUnlimitedAmount reports whether n is max-uint256 or anything above max-uint64
func IsUnlimitedAmount(n *big.Int) bool {
	return n.Cmp(math.MaxBig256) == 0 || n.Cmp(maxUint64) > 0
}

// IsKnownSpender reports whether the spender is a well-known router
func IsKnownSpender(spender string) bool {
	_, ok := knownSpenders[strings.ToLower(strings.TrimSpace(spender))]
	return ok
}

// Analyze classifies an approval of amount to spender on token. On malformed
// amounts it returns a safe verdict together with an ErrInvalidInput error.
func (a *ApprovalAnalyzer) Analyze(spender, amount, tokenAddress string) (models.ApprovalVerdict, error) {
	verdict := models.ApprovalVerdict{
		SpenderAddress: spender,
		TokenAddress:   tokenAddress,
		Amount:         amount,
		RiskLevel:      models.RiskLevelSafe,
		Reasons:        []string{},
	}

	n, err := ParseAmount(amount)
	if err != nil {
		return verdict, err
	}

	verdict.IsUnlimited = IsUnlimitedAmount(n)
	known := IsKnownSpender(spender)

	if verdict.IsUnlimited {
		verdict.Reasons = append(verdict.Reasons, ReasonUnlimitedApproval)
		verdict.RiskLevel = models.RiskLevelCritical
	}

	if !known {
		verdict.Reasons = append(verdict.Reasons, UnknownSpenderReason(spender))
		verdict.RiskLevel = models.MaxRiskLevel(verdict.RiskLevel, models.RiskLevelWarning)
	}

	if verdict.IsUnlimited && !known {
		verdict.RiskLevel = models.RiskLevelCritical
		if !containsString(verdict.Reasons, ReasonUnlimitedAndUnknown) {
			verdict.Reasons = append(verdict.Reasons, ReasonUnlimitedAndUnknown)
		}
	}

	return verdict, nil
}

// UnknownSpenderReason names the spender by its first ten characters
func UnknownSpenderReason(spender string) string {
	return fmt.Sprintf("Unknown spender address: %s...", truncate(spender, 10))
}

// IsApprovalCalldata reports whether data is an ERC-20 approve call
func IsApprovalCalldata(data string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(data)), ApproveSelector)
}

// DecodeApproval decodes approve(address,uint256) calldata
func (a *ApprovalAnalyzer) DecodeApproval(data string) (*models.DecodedApproval, error) {
	if !IsApprovalCalldata(data) {
		return nil, fmt.Errorf("%w: not an approve call", ErrInvalidInput)
	}

	raw, err := hexutil.Decode(strings.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	args, err := a.tokenABI.Methods["approve"].Inputs.Unpack(raw[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unpack approve: %v", ErrInvalidInput, err)
	}

	spender, ok := args[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected spender type", ErrInvalidInput)
	}
	amount, ok := args[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected amount type", ErrInvalidInput)
	}

	return &models.DecodedApproval{
		Spender: spender.Hex(),
		Amount:  hexutil.EncodeBig(amount),
	}, nil
}

// DecodeCalldata decodes calldata against the common token selectors.
// Unrecognised selectors decode to an "Unknown Function" entry.
func (a *ApprovalAnalyzer) DecodeCalldata(data string) (models.DecodedCall, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(data))
	if err != nil {
		return models.DecodedCall{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(raw) < 4 {
		return models.DecodedCall{}, fmt.Errorf("%w: calldata shorter than a selector", ErrInvalidInput)
	}

	call := models.DecodedCall{Selector: hexutil.Encode(raw[:4])}

	method, err := a.tokenABI.MethodById(raw[:4])
	if err != nil {
		call.Name = "Unknown Function"
		call.Description = "This function signature is not recognized"
		return call, nil
	}

	call.Name = method.RawName
	call.Description = callDescriptions[method.RawName]
	call.Known = true

	values, err := method.Inputs.Unpack(raw[4:])
	if err != nil {
		return call, fmt.Errorf("%w: failed to unpack %s: %v", ErrInvalidInput, method.RawName, err)
	}
	for i, input := range method.Inputs {
		call.Params = append(call.Params, models.CallParam{
			Name:  input.Name,
			Type:  input.Type.String(),
			Value: formatABIValue(values[i]),
		})
	}

	return call, nil
}

func formatABIValue(v any) string {
	switch val := v.(type) {
	case common.Address:
		return val.Hex()
	case *big.Int:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// DetectApprovalAbuse inspects transfers observed after an approval
func DetectApprovalAbuse(approvedAt time.Time, amount, spender string, transfers []models.Transfer) models.ApprovalAbuseReport {
	report := models.ApprovalAbuseReport{
		AbuseSigns: []string{},
		Severity:   models.RiskLevelSafe,
	}

	for _, tx := range transfers {
		diff := tx.Timestamp.Sub(approvedAt)
		if diff <= 0 || diff >= abuseWindow {
			continue
		}
		if strings.EqualFold(tx.From, spender) {
			report.AbuseSigns = append(report.AbuseSigns,
				fmt.Sprintf("Suspicious transfer from spender within %d seconds", int(diff.Round(time.Second).Seconds())))
			report.IsAbused = true
			report.Severity = models.RiskLevelCritical
		}
	}

	if len(transfers) == 0 && strings.TrimSpace(amount) != "0" {
		report.AbuseSigns = append(report.AbuseSigns, ReasonNoSwapAfterApproval)
		report.Severity = models.RiskLevelWarning
	}

	return report
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
