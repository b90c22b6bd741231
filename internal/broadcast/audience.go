package broadcast

// OpsAudience receives fraud alerts, health snapshots, and performance
// metrics. Operator connections subscribe to it explicitly.
const OpsAudience = "ops"

// CompetitionAudience names the group of connections watching one
// competition's live results.
func CompetitionAudience(competitionID string) string {
	return "competition:" + competitionID
}
