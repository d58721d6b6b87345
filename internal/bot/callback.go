package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrMalformedCallback = errors.New("malformed callback data")

const (
	prefixPix         = "pix_"
	prefixCheck       = "check_"
	prefixBumpAccept  = "bump_accept_"
	prefixBumpDecline = "bump_decline_"
	dataStart         = "start"
)

// Action 按钮回调解码后的动作，只有本文件中的类型实现它
type Action interface {
	Encode() string
	action()
}

// Pix 选择套餐。Amount 与 BotID 仅用于校验按钮是否过期
type Pix struct {
	Amount    decimal.Decimal
	BotID     int64
	PlanIndex int
}

type Check struct {
	PaymentID int64
}

type BumpAccept struct {
	OfferID int64
}

type BumpDecline struct {
	OfferID int64
}

// Start 回到欢迎页
type Start struct{}

func (a Pix) Encode() string {
	return fmt.Sprintf("%s%s_%d_%d", prefixPix, a.Amount.StringFixed(2), a.BotID, a.PlanIndex)
}

func (a Check) Encode() string       { return prefixCheck + strconv.FormatInt(a.PaymentID, 10) }
func (a BumpAccept) Encode() string  { return prefixBumpAccept + strconv.FormatInt(a.OfferID, 10) }
func (a BumpDecline) Encode() string { return prefixBumpDecline + strconv.FormatInt(a.OfferID, 10) }
func (Start) Encode() string         { return dataStart }

func (Pix) action()         {}
func (Check) action()       {}
func (BumpAccept) action()  {}
func (BumpDecline) action() {}
func (Start) action()       {}

// DecodeCallback 解析回调数据，数据来自客户端，任何不合法的输入都返回 ErrMalformedCallback
func DecodeCallback(data string) (Action, error) {
	switch {
	case data == dataStart:
		return Start{}, nil

	case strings.HasPrefix(data, prefixBumpAccept):
		id, err := parseID(strings.TrimPrefix(data, prefixBumpAccept))
		if err != nil {
			return nil, malformed(data, err)
		}
		return BumpAccept{OfferID: id}, nil

	case strings.HasPrefix(data, prefixBumpDecline):
		id, err := parseID(strings.TrimPrefix(data, prefixBumpDecline))
		if err != nil {
			return nil, malformed(data, err)
		}
		return BumpDecline{OfferID: id}, nil

	case strings.HasPrefix(data, prefixCheck):
		id, err := parseID(strings.TrimPrefix(data, prefixCheck))
		if err != nil {
			return nil, malformed(data, err)
		}
		return Check{PaymentID: id}, nil

	case strings.HasPrefix(data, prefixPix):
		return decodePix(data)
	}

	return nil, malformed(data, errors.New("unknown tag"))
}

func decodePix(data string) (Action, error) {
	parts := strings.Split(strings.TrimPrefix(data, prefixPix), "_")
	if len(parts) != 3 {
		return nil, malformed(data, fmt.Errorf("expected 3 fields, got %d", len(parts)))
	}

	amount, err := decimal.NewFromString(parts[0])
	if err != nil {
		return nil, malformed(data, err)
	}
	if !amount.IsPositive() {
		return nil, malformed(data, errors.New("amount must be positive"))
	}

	botID, err := parseID(parts[1])
	if err != nil {
		return nil, malformed(data, err)
	}

	index, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, malformed(data, err)
	}
	if index < 0 {
		return nil, malformed(data, errors.New("negative plan index"))
	}

	return Pix{Amount: amount, BotID: botID, PlanIndex: index}, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}

func malformed(data string, err error) error {
	return fmt.Errorf("%w %q: %v", ErrMalformedCallback, data, err)
}
