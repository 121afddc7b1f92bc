package models

// ServiceDescriptor advertises a backing service to authenticated clients.
type ServiceDescriptor struct {
	Type string `json:"type" mapstructure:"type"`
	URL  string `json:"url" mapstructure:"url"`
}
