package mtproto

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"engagement-hub/internal/domain"
)

const titleRunes = 120

func unpackMessages(res tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.ChatClass) {
	modified, ok := res.AsModified()
	if !ok {
		return nil, nil
	}
	return modified.GetMessages(), modified.GetChats()
}

func channelIndex(chats []tg.ChatClass) map[int64]*tg.Channel {
	index := make(map[int64]*tg.Channel, len(chats))
	for _, chat := range chats {
		if ch, ok := chat.(*tg.Channel); ok {
			index[ch.ID] = ch
		}
	}
	return index
}

// recordsFromMessages превращает сообщения каналов в сырые записи. Сообщения без
// публичного алиаса канала дают записи без сообщества и будут отброшены валидацией.
func recordsFromMessages(keyword string, msgs []tg.MessageClass, chats []tg.ChatClass, minDate int) []domain.RawContentRecord {
	index := channelIndex(chats)
	out := make([]domain.RawContentRecord, 0, len(msgs))
	for _, raw := range msgs {
		msg, ok := raw.(*tg.Message)
		if !ok {
			continue
		}
		if minDate > 0 && msg.Date < minDate {
			continue
		}
		rec := domain.RawContentRecord{
			SourcePostID:   strconv.Itoa(msg.ID),
			Title:          titleOf(msg.Message),
			Body:           strings.TrimSpace(msg.Message),
			MatchedKeyword: keyword,
			PostedAt:       time.Unix(int64(msg.Date), 0).UTC(),
		}
		if peer, ok := msg.PeerID.(*tg.PeerChannel); ok {
			if ch, ok := index[peer.ChannelID]; ok && ch.Username != "" {
				rec.Community = strings.ToLower(ch.Username)
				rec.URL = fmt.Sprintf("https://t.me/%s/%d", ch.Username, msg.ID)
			}
		}
		if from, ok := msg.FromID.(*tg.PeerUser); ok {
			rec.Author = strconv.FormatInt(from.UserID, 10)
		}
		out = append(out, rec)
	}
	return out
}

// filterByKeywords оставляет записи, содержащие хотя бы одно ключевое слово.
// Без ключевых слов возвращает все записи.
func filterByKeywords(records []domain.RawContentRecord, keywords []string) []domain.RawContentRecord {
	if len(keywords) == 0 {
		return records
	}
	out := records[:0]
	for _, rec := range records {
		text := strings.ToLower(rec.Body)
		for _, kw := range keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				rec.MatchedKeyword = kw
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

func titleOf(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	runes := []rune(strings.TrimSpace(line))
	if len(runes) > titleRunes {
		return string(runes[:titleRunes]) + "…"
	}
	return string(runes)
}

func channelsFromChats(keyword string, chats []tg.ChatClass) []domain.DiscoveredChannel {
	out := make([]domain.DiscoveredChannel, 0, len(chats))
	for _, chat := range chats {
		ch, ok := chat.(*tg.Channel)
		if !ok || ch.Username == "" {
			continue
		}
		participants, _ := ch.GetParticipantsCount()
		out = append(out, domain.DiscoveredChannel{
			ExternalID:     ch.ID,
			Alias:          ch.Username,
			Title:          ch.Title,
			Participants:   participants,
			MatchedKeyword: keyword,
		})
	}
	return out
}

type refGroup struct {
	community  string
	messageIDs []int
	itemIDs    []string
}

// ParseReference разбирает внешний идентификатор вида "<community>/<message_id>".
func ParseReference(ref string) (string, int, error) {
	community, rawID, ok := strings.Cut(strings.TrimSpace(ref), "/")
	if !ok || community == "" {
		return "", 0, fmt.Errorf("некорректная ссылка %q", ref)
	}
	id, err := strconv.Atoi(rawID)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("некорректный id сообщения в %q", ref)
	}
	return community, id, nil
}

func groupRefs(refs []domain.PublishedRef) []refGroup {
	var groups []refGroup
	index := make(map[string]int)
	for _, ref := range refs {
		community, msgID, err := ParseReference(ref.ReferenceID)
		if err != nil {
			continue
		}
		i, ok := index[community]
		if !ok {
			i = len(groups)
			index[community] = i
			groups = append(groups, refGroup{community: community})
		}
		groups[i].messageIDs = append(groups[i].messageIDs, msgID)
		groups[i].itemIDs = append(groups[i].itemIDs, ref.ItemID)
	}
	return groups
}

// statsFromViews сопоставляет ответы API с элементами по порядку запроса.
func statsFromViews(itemIDs []string, views []tg.MessageViews) []domain.PostStats {
	out := make([]domain.PostStats, 0, len(views))
	for i, v := range views {
		if i >= len(itemIDs) {
			break
		}
		count, _ := v.GetViews()
		var replies int
		if r, ok := v.GetReplies(); ok {
			replies = r.Replies
		}
		out = append(out, domain.PostStats{ItemID: itemIDs[i], Score: count, Replies: replies})
	}
	return out
}
