package payrequest

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// URLScheme is the scheme of a transfer request URL.
const URLScheme = "solana"

// ErrInvalidURL indicates the text is not a transfer request URL.
var ErrInvalidURL = errors.New("payrequest: invalid payment url")

// TransferRequest is the content of a payment URL.
type TransferRequest struct {
	Recipient string
	// Amount is optional; nil lets the wallet prompt the payer.
	Amount     *decimal.Decimal
	SPLToken   string
	References []Reference
	Label      string
	Message    string
	Memo       string
}

// IntentRequest builds the transfer request that pays intent.
func IntentRequest(intent *Intent) TransferRequest {
	amount := intent.Amount
	return TransferRequest{
		Recipient:  intent.Recipient,
		Amount:     &amount,
		SPLToken:   intent.SPLToken,
		References: []Reference{intent.Reference},
		Label:      intent.Label,
		Message:    intent.Message,
		Memo:       intent.Memo,
	}
}

// EncodeURL renders req as solana:<recipient>?amount=..&spl-token=..&reference=..&label=..&message=..&memo=..
// Empty fields are omitted.
func EncodeURL(req TransferRequest) *url.URL {
	var params []string
	add := func(key, value string) {
		params = append(params, key+"="+url.QueryEscape(value))
	}
	if req.Amount != nil {
		add("amount", req.Amount.String())
	}
	if req.SPLToken != "" {
		add("spl-token", req.SPLToken)
	}
	for _, ref := range req.References {
		add("reference", ref.String())
	}
	if req.Label != "" {
		add("label", req.Label)
	}
	if req.Message != "" {
		add("message", req.Message)
	}
	if req.Memo != "" {
		add("memo", req.Memo)
	}
	return &url.URL{
		Scheme:   URLScheme,
		Opaque:   url.PathEscape(req.Recipient),
		RawQuery: strings.Join(params, "&"),
	}
}

// ParseURL decodes a transfer request URL.
func ParseURL(raw string) (*TransferRequest, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !strings.EqualFold(u.Scheme, URLScheme) {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	recipient, err := url.PathUnescape(u.Opaque)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if err := ValidateAddress(recipient); err != nil {
		return nil, err
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req := &TransferRequest{
		Recipient: recipient,
		SPLToken:  query.Get("spl-token"),
		Label:     query.Get("label"),
		Message:   query.Get("message"),
		Memo:      query.Get("memo"),
	}
	if raw := query.Get("amount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("%w: negative", ErrInvalidAmount)
		}
		req.Amount = &amount
	}
	if req.SPLToken != "" {
		if err := ValidateAddress(req.SPLToken); err != nil {
			return nil, fmt.Errorf("payrequest: invalid spl token: %w", err)
		}
	}
	for _, value := range query["reference"] {
		ref, err := ParseReference(value)
		if err != nil {
			return nil, err
		}
		req.References = append(req.References, ref)
	}
	return req, nil
}
