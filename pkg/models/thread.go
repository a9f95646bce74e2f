package models

// SearchHit is a single vector search match
type SearchHit struct {
	Row   int     `json:"row"`
	Score float32 `json:"score"`
}

// Reply is a message reached while walking a seed's reply tree.
// Depth is 1 for direct replies to the seed.
type Reply struct {
	Depth  int           `json:"depth"`
	Record MessageRecord `json:"record"`
}

// ThreadResult pairs a search seed with its bounded reply tree
type ThreadResult struct {
	Seed    MessageRecord `json:"seed"`
	Score   float32       `json:"score"`
	Row     int           `json:"row"`
	Replies []Reply       `json:"replies"`
}
