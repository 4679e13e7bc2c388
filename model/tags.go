/*
Copyright 2025 Bunlink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"fmt"
	"path"
	"strings"
)

// OutcomeKind is the closed set of per-line-item processing outcomes.
// Outcomes live as this enum internally and are serialized to the
// "PID-<pid>-<outcome>" order-tag format only at the Shopify boundary,
// because the order tag set is the sole persisted signal visible to
// support tooling.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNotFound
	OutcomeNotSelling
	OutcomeNoStock
	OutcomeError
)

const (
	outcomeTagPrefix = "PID-"

	tokenSuccess    = "Success"
	tokenNotFound   = "NotFound"
	tokenNotSelling = "NotSelling"
	tokenNoStock    = "NoStock"
)

// Outcome is a tagged variant: Code is set only for OutcomeError and carries
// the collaborator's error code verbatim (e.g. "INSUFFICIENT_POINTS").
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	Code string      `json:"code,omitempty"`
}

// ErrorOutcome builds an error outcome from a collaborator error code.
func ErrorOutcome(code string) Outcome {
	if code == "" {
		code = "UNKNOWN_ERROR"
	}
	return Outcome{Kind: OutcomeError, Code: code}
}

// IsError reports whether the outcome is anything other than Success.
func (o Outcome) IsError() bool {
	return o.Kind != OutcomeSuccess
}

// Token returns the outcome's tag token.
func (o Outcome) Token() string {
	switch o.Kind {
	case OutcomeSuccess:
		return tokenSuccess
	case OutcomeNotFound:
		return tokenNotFound
	case OutcomeNotSelling:
		return tokenNotSelling
	case OutcomeNoStock:
		return tokenNoStock
	default:
		return o.Code
	}
}

// FormatOutcomeTag serializes an outcome to its order-tag form,
// e.g. "PID-342351629-Success".
func FormatOutcomeTag(pid string, o Outcome) string {
	return fmt.Sprintf("%s%s-%s", outcomeTagPrefix, pid, o.Token())
}

// ParseOutcomeTag parses an order tag back into (pid, outcome). Tags that do
// not follow the outcome vocabulary return ok=false.
func ParseOutcomeTag(tag string) (string, Outcome, bool) {
	if !strings.HasPrefix(tag, outcomeTagPrefix) {
		return "", Outcome{}, false
	}
	rest := strings.TrimPrefix(tag, outcomeTagPrefix)
	idx := strings.Index(rest, "-")
	if idx <= 0 || idx == len(rest)-1 {
		return "", Outcome{}, false
	}
	pid, token := rest[:idx], rest[idx+1:]

	switch token {
	case tokenSuccess:
		return pid, Outcome{Kind: OutcomeSuccess}, true
	case tokenNotFound:
		return pid, Outcome{Kind: OutcomeNotFound}, true
	case tokenNotSelling:
		return pid, Outcome{Kind: OutcomeNotSelling}, true
	case tokenNoStock:
		return pid, Outcome{Kind: OutcomeNoStock}, true
	default:
		return pid, ErrorOutcome(token), true
	}
}

// FormatBunjangStatusTag serializes a Bunjang order status code observed by
// the order poller, e.g. "BunjangStatus-DELIVERY_COMPLETED".
func FormatBunjangStatusTag(code string) string {
	return "BunjangStatus-" + code
}

// Audit tags recorded by the cancellation engine after a financial action.
// Their presence is the idempotence marker that prevents double cancellation.
const (
	TagAutoCancelled = "bunlink-auto-cancelled"
	TagPartialRefund = "bunlink-partial-refund"
)

// TagListingSoldOut marks a storefront listing whose product sold on both
// marketplaces, so support can tell it apart from a listing merely withdrawn
// for a source-side sale.
const TagListingSoldOut = "bunlink-sold-out"

// WithSoldOutTag returns the listing tag set with the sold-out flag added.
// The tag set on a listing mutation is absolute, so re-applying the result
// is idempotent.
func WithSoldOutTag(tags []string) []string {
	for _, t := range tags {
		if t == TagListingSoldOut {
			return tags
		}
	}
	return append(append([]string{}, tags...), TagListingSoldOut)
}

// DefaultErrorTagPatterns is the configured error-tag set the cancellation
// trigger matches against when the config carries none.
var DefaultErrorTagPatterns = []string{
	"*_Error",
	"PID-*-NotFound",
	"PID-*-NotSelling",
	"PID-*-NoStock",
	"PID-*-INSUFFICIENT_POINTS",
	"PID-*-INVALID_ACCESS_TOKEN",
	"PID-*-*_ERROR",
}

// MatchesErrorTag reports whether the tag matches any of the configured
// error-tag patterns.
func MatchesErrorTag(tag string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, tag); err == nil && ok {
			return true
		}
	}
	return false
}

// Urgent error codes are scheduled for cancellation with zero delay: the
// buyer's money is committed and the failure cannot heal on its own.
var urgentErrorCodes = map[string]bool{
	"INSUFFICIENT_POINTS":  true,
	"INVALID_ACCESS_TOKEN": true,
	"UNAUTHORIZED":         true,
}

// IsUrgentOutcome reports whether the outcome warrants immediate
// cancellation scheduling.
func IsUrgentOutcome(o Outcome) bool {
	return o.Kind == OutcomeError && urgentErrorCodes[o.Code]
}
