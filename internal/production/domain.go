package production

import "time"

// Draft is the top-level content draft generated from a strategy.
type Draft struct {
	ID         string
	StrategyID string
	Headline   string
	CreatedAt  time.Time
}

// Bundle groups a draft's material for one channel. Child of Draft.
type Bundle struct {
	ID      string
	DraftID string
	Channel string
}

// BundleAsset is a single deliverable inside a bundle. Child of Bundle;
// deleted first on compensation.
type BundleAsset struct {
	ID       string
	BundleID string
	Kind     string
	URI      string
}
