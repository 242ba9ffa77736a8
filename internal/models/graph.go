package models

// GraphContext is the subgraph around the entities of a line.
type GraphContext struct {
	Nodes         []GraphNode         `json:"nodes"`
	Relationships []GraphRelationship `json:"relationships"`
}

// GraphNode is a node as returned by the graph service.
type GraphNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphRelationship is an edge as returned by the graph service.
type GraphRelationship struct {
	StartID string `json:"start_id"`
	EndID   string `json:"end_id"`
	Type    string `json:"type"`
}

// EmptyGraph returns a context with non-nil empty collections so it serialises as [] not null.
func EmptyGraph() GraphContext {
	return GraphContext{Nodes: []GraphNode{}, Relationships: []GraphRelationship{}}
}

// IsEmpty reports whether the context carries no nodes and no relationships.
func (g GraphContext) IsEmpty() bool {
	return len(g.Nodes) == 0 && len(g.Relationships) == 0
}

// Merge appends other into g, skipping nodes and relationships already present.
func (g *GraphContext) Merge(other GraphContext) {
	seenNodes := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		seenNodes[n.ID] = struct{}{}
	}
	for _, n := range other.Nodes {
		if _, ok := seenNodes[n.ID]; ok {
			continue
		}
		seenNodes[n.ID] = struct{}{}
		g.Nodes = append(g.Nodes, n)
	}

	seenRels := make(map[GraphRelationship]struct{}, len(g.Relationships))
	for _, r := range g.Relationships {
		seenRels[r] = struct{}{}
	}
	for _, r := range other.Relationships {
		if _, ok := seenRels[r]; ok {
			continue
		}
		seenRels[r] = struct{}{}
		g.Relationships = append(g.Relationships, r)
	}
}

// PromptPayload is what the verdict service receives for one line.
type PromptPayload struct {
	Line     string       `json:"log"`
	Examples []Example    `json:"examples"`
	Graph    GraphContext `json:"graph"`
}
