package classifier

import (
	"sort"
	"strings"
	"unicode"

	"github.com/customeros/mailsherpa/mailvalidate"

	"github.com/customeros/rfqstack/interfaces"
)

// shortKeywordLen and below are matched as whole words only.
const shortKeywordLen = 3

var defaultKeywords = map[string][]string{
	"rfq": {
		"rfq", "rfqs", "request for quote", "request for quotation", "request for pricing",
		"quotation", "quote", "proforma", "pro forma",
	},
	"pricing": {
		"pricing", "price list", "price request", "best price", "unit price",
	},
	"tender": {
		"tender", "bid", "bids", "invitation to bid", "rfp", "request for proposal",
	},
	"enquiry": {
		"enquiry", "inquiry", "enquire", "inquire",
	},
	"procurement": {
		"purchase requisition", "purchase request", "bill of quantities", "boq", "bom",
		"bill of materials", "sourcing", "procurement", "supply of",
	},
}

var bounceSubjects = []string{
	"mail delivery failure",
	"undelivered mail returned to sender",
	"delivery status notification",
	"undeliverable",
	"undelivered",
	"delivery failure",
	"failure notice",
	"returned mail",
	"automatic reply",
	"out of office",
}

type rfqClassifier struct {
	keywords []string
}

// NewRFQClassifier matches against the given keywords, or the built-in list when empty.
func NewRFQClassifier(keywords []string) interfaces.RFQClassifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords()
	}

	normalized := make([]string, 0, len(keywords))
	seen := map[string]bool{}
	for _, k := range keywords {
		k = normalize(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		normalized = append(normalized, k)
	}
	// longest first so the reported reason is the most specific phrase
	sort.SliceStable(normalized, func(i, j int) bool { return len(normalized[i]) > len(normalized[j]) })

	return &rfqClassifier{keywords: normalized}
}

func DefaultKeywords() []string {
	groups := make([]string, 0, len(defaultKeywords))
	for group := range defaultKeywords {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	var all []string
	for _, group := range groups {
		all = append(all, defaultKeywords[group]...)
	}
	return all
}

// IsCandidateRFQ reports whether the subject or body mentions a quotation
// keyword and returns the keyword that matched. Delivery failures and
// auto-replies are never candidates even when they quote an RFQ subject.
func (c *rfqClassifier) IsCandidateRFQ(subject, body string) (bool, string) {
	subject = normalize(subject)
	if isBounceSubject(subject) {
		return false, ""
	}

	if keyword, ok := c.match(subject); ok {
		return true, keyword
	}
	if keyword, ok := c.match(normalize(body)); ok {
		return true, keyword
	}
	return false, ""
}

func (c *rfqClassifier) match(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, keyword := range c.keywords {
		if containsKeyword(text, keyword) {
			return keyword, true
		}
	}
	return "", false
}

// containsKeyword requires a word boundary before every match. Short keywords
// also need one after, so "bid" matches "bid due" but not "forbidden" or "bidet".
func containsKeyword(text, keyword string) bool {
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], keyword)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(keyword)

		leftOK := start == 0 || !isWordByte(text[start-1])
		rightOK := len(keyword) > shortKeywordLen || end == len(text) || !isWordByte(text[end])
		if leftOK && rightOK {
			return true
		}
		offset = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 0x80 || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

func isBounceSubject(subject string) bool {
	for _, phrase := range bounceSubjects {
		if strings.HasPrefix(subject, phrase) || strings.Contains(subject, phrase+":") {
			return true
		}
	}
	return false
}

// IsSystemSender flags senders that never carry a customer RFQ: mailer daemons
// and system generated addresses.
func IsSystemSender(from string) (bool, string) {
	lower := strings.ToLower(from)
	if strings.Contains(lower, "mailer-daemon") || strings.Contains(lower, "postmaster@") {
		return true, "FROM is a mailer daemon"
	}
	if from == "" {
		return false, ""
	}
	validation := mailvalidate.ValidateEmailSyntax(from)
	if validation.IsSystemGenerated {
		return true, "FROM is system generated"
	}
	return false, ""
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
