package schema

import "github.com/JonMunkholm/propstage/internal/record"

// Property extract datasets. Both read the same export layout; prop_extract
// keeps every snapshot, prop_latest keeps one row per property_id.
const (
	PropExtract = "prop_extract"
	PropLatest  = "prop_latest"
)

var propertyNumericColumns = []string{
	"bedrooms", "total_bathrooms", "building_sqft", "total_assessed_value",
	"improvement_to_tax_value", "last_sale_amount", "lot_size_sqft",
	"assessed_improvement_value",
	"loan_1_balance", "loan_1_rate", "loan_2_balance", "loan_2_rate",
	"loan_3_balance", "loan_3_rate", "loan_4_balance", "loan_4_rate",
	"total_open_loans", "est_remaining_balance_of_open_loans", "est_value",
	"est_loantovalue", "est_equity", "mls_amount", "lien_amount",
	"prefc_unpaid_balance", "prefc_default_amount", "prefc_auction_opening_bid",
}

var propertyIntegerColumns = []string{
	"effective_year_built",
}

var propertyDateColumns = []string{
	"last_sale_date", "last_sale_recording_date", "prior_sale_date",
	"loan_1_date", "loan_2_date", "loan_3_date", "loan_4_date",
	"mls_date", "lien_date", "bk_date", "divorce_date",
	"pre_fc_recording_date", "prefc_auction_date",
	"date_added_to_list", record.ExtractDateColumn,
}

// PropertyRenames fixes inconsistent header spellings across export versions.
var PropertyRenames = map[string]string{
	"mls_agent_e_mail":     "mls_agent_email",
	"agent_e_mail":         "agent_email",
	"owner_1_e_mail":       "owner_1_email",
	"pre_fc_auction_date":  "prefc_auction_date",
	"prefc_recording_date": "pre_fc_recording_date",
}

// PropertyTypes returns the semantic type map of the property export.
func PropertyTypes() map[string]record.SemanticType {
	types := make(map[string]record.SemanticType,
		len(propertyNumericColumns)+len(propertyIntegerColumns)+len(propertyDateColumns))
	for _, c := range propertyNumericColumns {
		types[c] = record.TypeNumeric
	}
	for _, c := range propertyIntegerColumns {
		types[c] = record.TypeInteger
	}
	for _, c := range propertyDateColumns {
		types[c] = record.TypeDate
	}
	return types
}

var propertyNormalizers = map[string]string{
	"state":       "us_state",
	"owner_state": "us_state",
	"zip":         "zip",
	"owner_zip":   "zip",
}

func init() {
	Register(Dataset{
		Key:         PropExtract,
		Label:       "Property extract (history)",
		Schema:      "stg",
		Table:       "prop_extract",
		Types:       PropertyTypes(),
		Renames:     PropertyRenames,
		Normalizers: propertyNormalizers,
	})
	Register(Dataset{
		Key:         PropLatest,
		Label:       "Property extract (latest per property)",
		Schema:      "stg",
		Table:       "prop_latest",
		UniqueKey:   "property_id",
		Types:       PropertyTypes(),
		Renames:     PropertyRenames,
		Normalizers: propertyNormalizers,
	})
}
