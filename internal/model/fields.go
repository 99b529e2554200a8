package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FieldSpec describes one canonical verification field: its category and the
// ordered list of source names it may appear under in a lead record.
type FieldSpec struct {
	Name     string
	Category Category
	Aliases  []string
}

// CanonicalFields is the fixed, ordered list of fields captured into
// verification items when a session starts. The first alias that resolves to a
// non-empty value wins.
var CanonicalFields = []FieldSpec{
	{"customer_first_name", CategoryClient, []string{"first_name", "customer_first_name", "fname"}},
	{"customer_last_name", CategoryClient, []string{"last_name", "customer_last_name", "lname"}},
	{"date_of_birth", CategoryClient, []string{"date_of_birth", "dob", "birth_date"}},
	{"phone_number", CategoryClient, []string{"phone_number", "phone", "customer_phone"}},
	{"email", CategoryClient, []string{"email", "email_address", "customer_email"}},
	{"street_address", CategoryClient, []string{"street_address", "address", "address_line1"}},
	{"city", CategoryClient, []string{"city", "customer_city"}},
	{"state", CategoryClient, []string{"state", "customer_state", "province"}},
	{"zip_code", CategoryClient, []string{"zip_code", "zip", "postal_code"}},
	{"dnc_status", CategoryCompliance, []string{"dnc_status", "dnc", "do_not_call"}},
	{"tcpa_consent", CategoryCompliance, []string{"tcpa_consent", "tcpa", "tcpa_optin"}},
	{"call_recording_consent", CategoryCompliance, []string{"call_recording_consent", "recording_consent"}},
	{"payment_method", CategoryPayment, []string{"payment_method", "payment_type"}},
	{"card_holder_name", CategoryPayment, []string{"card_holder_name", "cardholder_name", "name_on_card"}},
	{"card_number_last4", CategoryPayment, []string{"card_number_last4", "card_last4", "last4"}},
	{"card_expiration", CategoryPayment, []string{"card_expiration", "card_exp", "expiration_date"}},
	{"bank_routing_number", CategoryPayment, []string{"bank_routing_number", "routing_number", "aba"}},
	{"bank_account_last4", CategoryPayment, []string{"bank_account_last4", "account_last4"}},
	{"draft_date", CategoryPayment, []string{"draft_date", "payment_date", "first_draft_date"}},
	{"primary_user_name", CategoryPrimaryUser, []string{"primary_user_name", "user_name", "beneficiary_name"}},
	{"primary_user_relationship", CategoryPrimaryUser, []string{"primary_user_relationship", "relationship"}},
	{"product_name", CategoryProduct, []string{"product_name", "product", "plan_name"}},
	{"carrier", CategoryProduct, []string{"carrier", "insurance_carrier"}},
	{"device_type", CategoryProduct, []string{"device_type", "device"}},
	{"device_cost", CategoryProduct, []string{"device_cost", "device_price"}},
	{"monthly_premium", CategoryProduct, []string{"monthly_premium", "premium", "monthly_cost"}},
	{"activation_fee", CategoryProduct, []string{"activation_fee", "setup_fee"}},
	{"shipping_cost", CategoryProduct, []string{"shipping_cost", "shipping"}},
	{"total_due_today", CategoryTotals, []string{"total_due_today", "due_today", "upfront_total"}},
	{"total_monthly", CategoryTotals, []string{"total_monthly", "monthly_total"}},
}

// LookupField returns the canonical spec for name.
func LookupField(name string) (FieldSpec, bool) {
	for _, f := range CanonicalFields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// ResolveField returns the first non-empty value among spec's aliases in
// record, rendered as a string. Missing fields resolve to "".
func ResolveField(record map[string]any, spec FieldSpec) string {
	for _, alias := range spec.Aliases {
		v, ok := record[alias]
		if !ok {
			continue
		}
		if s := stringify(v); s != "" {
			return s
		}
	}
	return ""
}

// stringify renders a decoded JSON value the way it should appear in a
// verification item.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
