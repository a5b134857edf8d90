package bot

import (
	"fmt"

	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/notify"
	"github.com/lexflow/backend/internal/variable"
)

const maxListed = 10

// BuildPendingCard lists the documents waiting for the user's signature.
func BuildPendingCard(docs []model.Document) map[string]interface{} {
	if len(docs) == 0 {
		return notify.BuildCard("green", "Nothing to sign", []notify.CardField{
			{Key: "Pending", Value: "0"},
		}, nil)
	}

	fields := make([]notify.CardField, 0, len(docs)+1)
	for i, d := range docs {
		if i == maxListed {
			fields = append(fields, notify.CardField{Key: "More", Value: fmt.Sprintf("%d more", len(docs)-maxListed)})
			break
		}
		due := "no deadline"
		if d.SignatureDueDate != nil {
			due = "due " + d.SignatureDueDate.Format(variable.DateLayout)
		}
		fields = append(fields, notify.CardField{Key: fmt.Sprintf("#%d", d.ID), Value: fmt.Sprintf("%s (%s)", d.Title, due)})
	}
	return notify.BuildCard("blue", fmt.Sprintf("%d documents awaiting your signature", len(docs)), fields, nil)
}

func BuildActionCard(action string, doc *model.Document) map[string]interface{} {
	color := "green"
	if doc.State == model.StateRejected {
		color = "red"
	}
	return notify.BuildCard(color, fmt.Sprintf("%s #%d", action, doc.ID), []notify.CardField{
		{Key: "Document", Value: doc.Title},
		{Key: "State", Value: string(doc.State)},
	}, nil)
}
