package notification

import "strings"

// Category is the UI tab a notification belongs to.
type Category string

const (
	CategoryMentions     Category = "mentions"
	CategoryTasks        Category = "tasks"
	CategoryDeals        Category = "deals"
	CategoryDocuments    Category = "documents"
	CategoryTeam         Category = "team"
	CategoryAchievements Category = "achievements"
	CategoryAgents       Category = "agents"
	CategoryOther        Category = "other"
)

var categories = []Category{
	CategoryMentions, CategoryTasks, CategoryDeals, CategoryDocuments,
	CategoryTeam, CategoryAchievements, CategoryAgents, CategoryOther,
}

func ParseCategory(s string) (Category, bool) {
	for _, c := range categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Topic names the preference flag that gates an event type.
type Topic string

const (
	TopicNone           Topic = ""
	TopicMentions       Topic = "mentions"
	TopicTaskAssigned   Topic = "task_assigned"
	TopicTaskDueSoon    Topic = "task_due_soon"
	TopicTaskUpdates    Topic = "task_updates"
	TopicDealWon        Topic = "deal_won"
	TopicDealUpdates    Topic = "deal_updates"
	TopicDocumentShares Topic = "document_shares"
	TopicTeamUpdates    Topic = "team_updates"
	TopicAchievements   Topic = "achievements"
	TopicAgentUpdates   Topic = "agent_updates"
)

type rule struct {
	match    func(string) bool
	topic    Topic
	category Category
}

func contains(sub string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, sub) }
}

func prefix(p string) func(string) bool {
	return func(s string) bool { return strings.HasPrefix(s, p) }
}

// Ordered from most to least specific; the first hit wins.
var rules = []rule{
	{contains("mention"), TopicMentions, CategoryMentions},
	{contains("task_due"), TopicTaskDueSoon, CategoryTasks},
	{contains("task_assigned"), TopicTaskAssigned, CategoryTasks},
	{prefix("task_"), TopicTaskUpdates, CategoryTasks},
	{contains("deal_won"), TopicDealWon, CategoryDeals},
	{prefix("deal_"), TopicDealUpdates, CategoryDeals},
	{prefix("document_"), TopicDocumentShares, CategoryDocuments},
	{prefix("doc_"), TopicDocumentShares, CategoryDocuments},
	{prefix("team_"), TopicTeamUpdates, CategoryTeam},
	{prefix("member_"), TopicTeamUpdates, CategoryTeam},
	{prefix("achievement"), TopicAchievements, CategoryAchievements},
	{prefix("agent_"), TopicAgentUpdates, CategoryAgents},
	{prefix("automation_"), TopicAgentUpdates, CategoryAgents},
}

// Classify maps an event type to its preference topic and UI category.
// Unknown event types get TopicNone, which preferences always allow.
func Classify(eventType string) (Topic, Category) {
	et := strings.ToLower(strings.TrimSpace(eventType))
	for _, r := range rules {
		if r.match(et) {
			return r.topic, r.category
		}
	}
	return TopicNone, CategoryOther
}
