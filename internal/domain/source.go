package domain

// Source is a marketplace or aggregator an order originated from.
type Source struct {
	ID         int               `json:"id"`
	Domain     string            `json:"domain"`
	DomainHash string            `json:"domainHash"`
	Name       string            `json:"name"`
	Address    string            `json:"address"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
