package bdd

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"marketplace_chat_service/internal/chat/app"
	"marketplace_chat_service/internal/chat/domain"

	"github.com/cucumber/godog"
)

var feature = `
Feature: conversation synchronization
  In order to trust the conversation view
  As a marketplace user
  I want the timeline and directory to converge regardless of event order

  Scenario: realtime event and batched fetch overlap
    Given an empty timeline
    When the realtime event for message "m-3" arrives
    And the batched fetch returns messages "m-1,m-2,m-3"
    Then the timeline contains 3 messages in order "m-1,m-2,m-3"

  Scenario: provisional message is swapped for the stored one
    Given an empty timeline
    When I send a message with provisional id "tmp-1"
    And the gateway acknowledges it as "srv-42"
    Then the timeline contains 1 messages in order "srv-42"
    And no message "tmp-1" remains

  Scenario: background message bumps the unread count
    Given a directory with conversations "conv-a,conv-b"
    When a message from "them" arrives in "conv-b"
    Then conversation "conv-b" is first with 1 unread
`

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			FeatureContents: []godog.Feature{
				{Name: "conversation synchronization", Contents: []byte(feature)},
			},
			Format: "pretty",
			Output: os.Stdout,
		},
	}

	if suite.Run() != 0 {
		t.Fail()
	}
}

// InitializeScenario binds the Gherkin steps to the in-memory sync state.
func InitializeScenario(s *godog.ScenarioContext) {
	s.Step(`^an empty timeline$`, anEmptyTimeline)
	s.Step(`^the realtime event for message "([^"]*)" arrives$`, theRealtimeEventArrives)
	s.Step(`^the batched fetch returns messages "([^"]*)"$`, theBatchedFetchReturns)
	s.Step(`^the timeline contains (\d+) messages in order "([^"]*)"$`, theTimelineContainsInOrder)
	s.Step(`^I send a message with provisional id "([^"]*)"$`, iSendAProvisionalMessage)
	s.Step(`^the gateway acknowledges it as "([^"]*)"$`, theGatewayAcknowledges)
	s.Step(`^no message "([^"]*)" remains$`, noMessageRemains)
	s.Step(`^a directory with conversations "([^"]*)"$`, aDirectoryWithConversations)
	s.Step(`^a message from "([^"]*)" arrives in "([^"]*)"$`, aMessageArrivesIn)
	s.Step(`^conversation "([^"]*)" is first with (\d+) unread$`, conversationIsFirstWithUnread)
}

var (
	timeline  *app.Timeline
	directory *app.Directory
	baseTime  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lastTmpID string
)

func messageNamed(id, sender, convID string) domain.Message {
	// ids like m-3 encode their position, so creation times follow the name
	offset := time.Duration(id[len(id)-1]) * time.Second
	return domain.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       sender,
		Content:        "content of " + id,
		CreatedAt:      baseTime.Add(offset),
		Status:         domain.StatusSent,
	}
}

func anEmptyTimeline() error {
	timeline = app.NewTimeline()
	return nil
}

func theRealtimeEventArrives(id string) error {
	timeline.Merge(messageNamed(id, "them", "conv-a"))
	return nil
}

func theBatchedFetchReturns(csv string) error {
	for _, id := range splitCSV(csv) {
		timeline.Merge(messageNamed(id, "them", "conv-a"))
	}
	return nil
}

func theTimelineContainsInOrder(count int, csv string) error {
	ordered := timeline.Ordered()
	want := splitCSV(csv)
	if len(ordered) != count {
		return fmt.Errorf("expected %d messages, got %d", count, len(ordered))
	}
	for i, id := range want {
		if ordered[i].ID != id {
			return fmt.Errorf("position %d: expected %s, got %s", i, id, ordered[i].ID)
		}
	}
	return nil
}

func iSendAProvisionalMessage(tmpID string) error {
	lastTmpID = tmpID
	m := messageNamed(tmpID, "me", "conv-a")
	m.Status = domain.StatusPending
	timeline.Merge(m)
	return nil
}

func theGatewayAcknowledges(storedID string) error {
	stored := messageNamed(storedID, "me", "conv-a")
	timeline.Swap(lastTmpID, stored)
	return nil
}

func noMessageRemains(id string) error {
	if timeline.Contains(id) {
		return fmt.Errorf("message %s still present", id)
	}
	return nil
}

func aDirectoryWithConversations(csv string) error {
	directory = app.NewDirectory("me", nil, nil)
	var list []domain.Conversation
	for i, id := range splitCSV(csv) {
		list = append(list, domain.Conversation{
			ID:           id,
			Kind:         domain.KindInquiry,
			UpdatedAt:    baseTime.Add(-time.Duration(i) * time.Hour),
			Participants: []string{"me", "them"},
		})
	}
	directory.Replace(list)
	return nil
}

func aMessageArrivesIn(sender, convID string) error {
	if !directory.UpsertFromEvent(messageNamed("m-9", sender, convID), "") {
		return fmt.Errorf("conversation %s unknown", convID)
	}
	return nil
}

func conversationIsFirstWithUnread(convID string, unread int) error {
	snap := directory.Snapshot()
	if len(snap) == 0 || snap[0].ID != convID {
		return fmt.Errorf("conversation %s is not first", convID)
	}
	if snap[0].UnreadCount != unread {
		return fmt.Errorf("expected %d unread, got %d", unread, snap[0].UnreadCount)
	}
	return nil
}

func splitCSV(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
