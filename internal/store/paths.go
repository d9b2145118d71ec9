package store

import "fmt"

// Canonical paths, keyed by event code. Everything under
// session_data/{code}/ is session scoped and wiped by clearScreen;
// events/{id} survives it.

func EventPath(eventID string) string {
	return fmt.Sprintf("events/%s", eventID)
}

func CurrentEventPath(code string) string {
	return fmt.Sprintf("active_events/%s/currentEvent", code)
}

func GameStatePath(code string) string {
	return fmt.Sprintf("active_events/%s/gameState", code)
}

func ScreenSeenPath(code string) string {
	return fmt.Sprintf("active_events/%s/screen_status/last_seen", code)
}

func SessionDataPrefix(code string) string {
	return fmt.Sprintf("session_data/%s/", code)
}

func RegistryPath(code, guest string) string {
	return fmt.Sprintf("session_data/%s/registry/%s", code, guest)
}

func RegistryPrefix(code string) string {
	return fmt.Sprintf("session_data/%s/registry/", code)
}

func AnswerPath(code, guest string, questionIndex int) string {
	return fmt.Sprintf("session_data/%s/quiz_answers/%s/%d", code, guest, questionIndex)
}

func AnswersPrefix(code string) string {
	return fmt.Sprintf("session_data/%s/quiz_answers/", code)
}

func RacePath(code, guest string) string {
	return fmt.Sprintf("session_data/%s/race/%s", code, guest)
}

func RacePrefix(code string) string {
	return fmt.Sprintf("session_data/%s/race/", code)
}

func ShakePath(code, guest string) string {
	return fmt.Sprintf("session_data/%s/shake/%s", code, guest)
}

func ShakePrefix(code string) string {
	return fmt.Sprintf("session_data/%s/shake/", code)
}

func QuestResponsePath(code string, stage int, guest string) string {
	return fmt.Sprintf("session_data/%s/quest_responses/%d/%s", code, stage, guest)
}

func QuestResponsesPrefix(code string) string {
	return fmt.Sprintf("session_data/%s/quest_responses/", code)
}

func ImagePath(code, submissionID string) string {
	return fmt.Sprintf("session_data/%s/images/%s", code, submissionID)
}

func ImagesPrefix(code string) string {
	return fmt.Sprintf("session_data/%s/images/", code)
}
