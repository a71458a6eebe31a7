package importing

// Contact is a CRM contact record as seen by the pipeline.
type Contact struct {
	ID         string
	Email      string
	Properties map[string]string
}

type Company struct {
	ID     string
	Name   string
	Domain string
}

type TaskRequest struct {
	ContactID  string
	AssigneeID string
	Subject    string
	Body       string
}
