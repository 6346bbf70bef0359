package teams

// Team is a club that can own scorekeepers and play matches.
type Team struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Fields returns the columns stored for the team.
func (t Team) Fields() map[string]any {
	return map[string]any{"id": t.ID, "name": t.Name}
}
