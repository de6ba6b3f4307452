package classify

import (
	"regexp"
	"strings"

	"github.com/cortexmap/cortex/internal/extraction"
	"github.com/cortexmap/cortex/internal/sitemap"
)

// action name constants, the low byte of an OpCode within its category.
const (
	actNavigateTo uint8 = iota
	actGoBack
)

const (
	actKeywordSearch uint8 = iota
)

const (
	actAddToCart uint8 = iota
	actRemoveFromCart
	actCheckout
	actApplyCoupon
	actSelectVariant
)

const (
	actSubmitForm uint8 = iota
	actClearForm
)

const (
	actLogin uint8 = iota
	actLogout
	actRegister
	actResetPassword
)

const (
	actPlay uint8 = iota
	actPause
	actDownload
)

const (
	actShare uint8 = iota
	actFollow
	actLike
)

const (
	actRefresh uint8 = iota
	actDelete
)

// exactMatches maps normalised inner text to an opcode. Exact matches take
// precedence over the keyword table.
var exactMatches = map[string]sitemap.OpCode{
	"add to cart":       sitemap.MakeOpCode(sitemap.CategoryCommerce, actAddToCart),
	"add to bag":        sitemap.MakeOpCode(sitemap.CategoryCommerce, actAddToCart),
	"buy now":           sitemap.MakeOpCode(sitemap.CategoryCommerce, actAddToCart),
	"remove":            sitemap.MakeOpCode(sitemap.CategoryCommerce, actRemoveFromCart),
	"checkout":          sitemap.MakeOpCode(sitemap.CategoryCommerce, actCheckout),
	"proceed to checkout": sitemap.MakeOpCode(sitemap.CategoryCommerce, actCheckout),
	"apply coupon":      sitemap.MakeOpCode(sitemap.CategoryCommerce, actApplyCoupon),
	"sign in":           sitemap.MakeOpCode(sitemap.CategoryAuth, actLogin),
	"log in":            sitemap.MakeOpCode(sitemap.CategoryAuth, actLogin),
	"login":             sitemap.MakeOpCode(sitemap.CategoryAuth, actLogin),
	"sign out":          sitemap.MakeOpCode(sitemap.CategoryAuth, actLogout),
	"log out":           sitemap.MakeOpCode(sitemap.CategoryAuth, actLogout),
	"logout":            sitemap.MakeOpCode(sitemap.CategoryAuth, actLogout),
	"create account":    sitemap.MakeOpCode(sitemap.CategoryAuth, actRegister),
	"sign up":           sitemap.MakeOpCode(sitemap.CategoryAuth, actRegister),
	"forgot password":   sitemap.MakeOpCode(sitemap.CategoryAuth, actResetPassword),
	"search":            sitemap.MakeOpCode(sitemap.CategorySearch, actKeywordSearch),
	"play":              sitemap.MakeOpCode(sitemap.CategoryMedia, actPlay),
	"download":          sitemap.MakeOpCode(sitemap.CategoryMedia, actDownload),
	"share":             sitemap.MakeOpCode(sitemap.CategorySocial, actShare),
	"follow":            sitemap.MakeOpCode(sitemap.CategorySocial, actFollow),
	"delete":            sitemap.MakeOpCode(sitemap.CategorySystem, actDelete),
	"delete account":    sitemap.MakeOpCode(sitemap.CategorySystem, actDelete),
}

type keywordRule struct {
	keyword string
	opcode  sitemap.OpCode
}

// keywordMatches is evaluated after exactMatches misses, first match wins.
var keywordMatches = []keywordRule{
	{"cart", sitemap.MakeOpCode(sitemap.CategoryCommerce, actAddToCart)},
	{"checkout", sitemap.MakeOpCode(sitemap.CategoryCommerce, actCheckout)},
	{"login", sitemap.MakeOpCode(sitemap.CategoryAuth, actLogin)},
	{"sign in", sitemap.MakeOpCode(sitemap.CategoryAuth, actLogin)},
	{"sign up", sitemap.MakeOpCode(sitemap.CategoryAuth, actRegister)},
	{"search", sitemap.MakeOpCode(sitemap.CategorySearch, actKeywordSearch)},
	{"subscribe", sitemap.MakeOpCode(sitemap.CategorySocial, actFollow)},
	{"download", sitemap.MakeOpCode(sitemap.CategoryMedia, actDownload)},
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normaliseButtonText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(s), " "))
}

// opcodeForText maps normalised button/link text to an opcode, exact match
// before keyword match.
func opcodeForText(text string) (sitemap.OpCode, bool) {
	norm := normaliseButtonText(text)
	if norm == "" {
		return 0, false
	}
	if op, ok := exactMatches[norm]; ok {
		return op, true
	}
	for _, kw := range keywordMatches {
		if strings.Contains(norm, kw.keyword) {
			return kw.opcode, true
		}
	}
	return 0, false
}

// riskForOpcode assigns risk by opcode.3: purchase, delete,
// logout -> destructive; all commerce, all form_submit, all auth ->
// cautious; otherwise safe.
func riskForOpcode(op sitemap.OpCode) sitemap.ActionRisk {
	cat := op.Category()
	act := op.Action()

	if cat == sitemap.CategoryCommerce && act == actCheckout {
		return sitemap.RiskDestructive
	}
	if cat == sitemap.CategorySystem && act == actDelete {
		return sitemap.RiskDestructive
	}
	if cat == sitemap.CategoryAuth && act == actLogout {
		return sitemap.RiskDestructive
	}
	if cat == sitemap.CategoryCommerce || cat == sitemap.CategoryForm || cat == sitemap.CategoryAuth {
		return sitemap.RiskCautious
	}
	return sitemap.RiskSafe
}

// DiscoveredAction is one action candidate before it is wired into a
// Builder, carrying the resolved opcode and a hint for the target node
// (empty when the action has no discoverable target page, e.g. a client-
// side JS handler).
type DiscoveredAction struct {
	Opcode     sitemap.OpCode
	Risk       sitemap.ActionRisk
	TargetURL  string // empty means sitemap.NodeSentinel
	CostHint   uint8
}

// DiscoverActions maps a page's forms and linked buttons/anchors to
// opcodes. Every <form> becomes a form_submit-risked action at its action
// URL; every link/button whose text matches the opcode table becomes an
// action at its href.
func DiscoverActions(sd *extraction.StructuredData) []DiscoveredAction {
	var out []DiscoveredAction

	for _, form := range sd.Forms {
		op := sitemap.MakeOpCode(sitemap.CategoryForm, actSubmitForm)
		out = append(out, DiscoveredAction{
			Opcode:    op,
			Risk:      riskForOpcode(op),
			TargetURL: form.Action,
			CostHint:  1,
		})
	}

	for _, link := range sd.Links {
		op, ok := opcodeForText(link.Text)
		if !ok {
			continue
		}
		out = append(out, DiscoveredAction{
			Opcode:    op,
			Risk:      riskForOpcode(op),
			TargetURL: link.URL,
			CostHint:  1,
		})
	}

	return out
}
