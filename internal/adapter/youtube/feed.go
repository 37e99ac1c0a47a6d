package youtube

import (
	"encoding/xml"
	"fmt"

	"github.com/pscheid92/streamnotify/internal/domain"
)

// feed is the Atom document the WebSub hub delivers for a channel topic.
type feed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []feedEntry `xml:"entry"`
	Deleted []struct {
		Ref string `xml:"ref,attr"`
	} `xml:"http://purl.org/atompub/tombstones/1.0 deleted-entry"`
}

type feedEntry struct {
	VideoID   string `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Title     string `xml:"title"`
}

// parseFeed checks that a delivery is an Atom feed about channelID.
func parseFeed(body []byte, channelID string) (*feed, error) {
	var f feed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("%w: atom feed: %w", domain.ErrInvalidInput, err)
	}
	for _, e := range f.Entries {
		if e.ChannelID != channelID {
			return nil, fmt.Errorf("%w: entry for channel %s on hook of %s", domain.ErrInvalidInput, e.ChannelID, channelID)
		}
	}
	return &f, nil
}
