package httpapi

import (
	"time"

	"github.com/jmerrifield20/propwatch/internal/agent/model"
	"github.com/jmerrifield20/propwatch/internal/matchengine"
	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

// criteriaDTO is the wire shape of matchengine.Criteria. MinScore is a
// pointer so an omitted field can be distinguished from an explicit 0,
// matching the invariant documented on matchengine.Criteria.
type criteriaDTO struct {
	Locations      []string `json:"locations"`
	PriceMin       *int64   `json:"price_min"`
	PriceMax       *int64   `json:"price_max"`
	BedroomsMin    *float64 `json:"bedrooms_min"`
	BathroomsMin   *float64 `json:"bathrooms_min"`
	PropertyTypes  []string `json:"property_types"`
	DealQualities  []string `json:"deal_qualities"`
	MinScore       *int     `json:"min_score"`
	InvestmentType string   `json:"investment_type"`
}

func (d criteriaDTO) toCriteria() matchengine.Criteria {
	minScore := matchengine.DefaultMinScore
	if d.MinScore != nil {
		minScore = *d.MinScore
	}
	quals := make([]propertymodel.DealQuality, 0, len(d.DealQualities))
	for _, q := range d.DealQualities {
		quals = append(quals, propertymodel.DealQuality(q))
	}
	return matchengine.Criteria{
		Locations:      d.Locations,
		PriceMin:       d.PriceMin,
		PriceMax:       d.PriceMax,
		BedroomsMin:    d.BedroomsMin,
		BathroomsMin:   d.BathroomsMin,
		PropertyTypes:  d.PropertyTypes,
		DealQualities:  quals,
		MinScore:       minScore,
		InvestmentType: d.InvestmentType,
	}
}

func criteriaToDTO(c matchengine.Criteria) criteriaDTO {
	quals := make([]string, 0, len(c.DealQualities))
	for _, q := range c.DealQualities {
		quals = append(quals, string(q))
	}
	minScore := c.MinScore
	return criteriaDTO{
		Locations:      c.Locations,
		PriceMin:       c.PriceMin,
		PriceMax:       c.PriceMax,
		BedroomsMin:    c.BedroomsMin,
		BathroomsMin:   c.BathroomsMin,
		PropertyTypes:  c.PropertyTypes,
		DealQualities:  quals,
		MinScore:       &minScore,
		InvestmentType: c.InvestmentType,
	}
}

type notifyDTO struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Chat  bool `json:"chat"`
}

func (d notifyDTO) toPrefs() model.NotificationPrefs {
	return model.NotificationPrefs{Email: d.Email, SMS: d.SMS, Chat: d.Chat}
}

func notifyToDTO(p model.NotificationPrefs) notifyDTO {
	return notifyDTO{Email: p.Email, SMS: p.SMS, Chat: p.Chat}
}

type createAgentRequest struct {
	ClientName  string      `json:"client_name"`
	ClientEmail string      `json:"client_email"`
	Criteria    criteriaDTO `json:"criteria"`
	Notify      notifyDTO   `json:"notify"`
}

// patchAgentRequest is the only mutable surface PATCH /api/agents/{id}
// accepts. Decoded with DisallowUnknownFields so any other top-level field
// is rejected as a 400 rather than silently ignored.
type patchAgentRequest struct {
	Notify *notifyDTO `json:"notify"`
}

type agentResponse struct {
	ID          string      `json:"id"`
	ClientID    string      `json:"client_id"`
	Status      string      `json:"status"`
	Health      string      `json:"health"`
	Criteria    criteriaDTO `json:"criteria"`
	Notify      notifyDTO   `json:"notify"`
	CreatedAt   time.Time   `json:"created_at"`
	LastCheckAt *time.Time  `json:"last_check_at,omitempty"`
	NextCheckAt *time.Time  `json:"next_check_at,omitempty"`
	CheckCount  int         `json:"check_count"`
	MatchCount  int         `json:"match_count"`
}

func toAgentResponse(a *model.Agent, criteria matchengine.Criteria) agentResponse {
	return agentResponse{
		ID:          a.ID,
		ClientID:    a.ClientID,
		Status:      string(a.Status),
		Health:      string(a.Health),
		Criteria:    criteriaToDTO(criteria),
		Notify:      notifyToDTO(a.Notify),
		CreatedAt:   a.CreatedAt,
		LastCheckAt: a.LastCheckAt,
		NextCheckAt: a.NextCheckAt,
		CheckCount:  a.CheckCount,
		MatchCount:  a.MatchCount,
	}
}

type matchResponse struct {
	ID             string                 `json:"id"`
	AgentID        string                 `json:"agent_id"`
	PropertyKey    string                 `json:"property_key"`
	MatchScore     int                    `json:"match_score"`
	Reasons        []string               `json:"reasons"`
	Property       propertymodel.Property `json:"property"`
	MatchedAt      time.Time              `json:"matched_at"`
	DeliveryStatus string                 `json:"delivery_status"`
}

func toMatchResponse(m *model.Match) matchResponse {
	return matchResponse{
		ID:             m.ID,
		AgentID:        m.AgentID,
		PropertyKey:    m.PropertyKey,
		MatchScore:     m.MatchScore,
		Reasons:        m.Reasons,
		Property:       m.Property,
		MatchedAt:      m.MatchedAt,
		DeliveryStatus: string(m.DeliveryStatus),
	}
}

type checkResultResponse struct {
	AgentID    string `json:"agent_id"`
	NewMatches int    `json:"new_matches"`
	PriceDrops int    `json:"price_drops"`
	Health     string `json:"health"`
	TookMS     int64  `json:"took_ms"`
}
