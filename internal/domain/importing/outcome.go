package importing

type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
	MatchNone  MatchType = "no_match"
)

type CompanyMatch struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
}

// SyncOutcome is the result of pushing one row to the CRM.
type SyncOutcome struct {
	RowIndex        int64         `json:"rowIndex"`
	ContactID       string        `json:"contactId"`
	MatchedCompany  *CompanyMatch `json:"matchedCompany"`
	MatchConfidence float64       `json:"matchConfidence"`
	MatchType       MatchType     `json:"matchType"`
	TaskCreated     bool          `json:"taskCreated"`
	TaskID          string        `json:"taskId,omitempty"`
	Error           string        `json:"error,omitempty"`
}

func (o SyncOutcome) Failed() bool {
	return o.Error != ""
}

func FailedOutcome(rowIndex int64, message string) SyncOutcome {
	return SyncOutcome{
		RowIndex:  rowIndex,
		MatchType: MatchNone,
		Error:     message,
	}
}

// Apply copies the outcome onto the row and moves it to its terminal sync
// status.
func (o SyncOutcome) Apply(row *Row) {
	if o.Failed() {
		row.Status = RowFailed
		row.ErrorMessage = o.Error
		return
	}
	row.Status = RowSynced
	row.ErrorMessage = ""
	row.ContactID = o.ContactID
	row.TaskID = o.TaskID
	row.MatchType = o.MatchType
	row.MatchConfidence = o.MatchConfidence
	row.CompanyID = ""
	if o.MatchedCompany != nil {
		row.CompanyID = o.MatchedCompany.ID
	}
}
