package industry

import (
	"context"

	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/services/matching"
)

// MatchDealers ranks dealers holding the requirement's material by how much
// of the remaining demand each could cover. It reserves nothing.
func (s *Service) MatchDealers(ctx context.Context, requirementID string) ([]matching.Match, error) {
	req, err := s.requirement(ctx, requirementID)
	if err != nil {
		return nil, err
	}
	remaining := req.RemainingKg()
	if remaining <= 0 {
		return []matching.Match{}, nil
	}

	stock, err := s.inventory.Stocked(ctx, req.ScrapType)
	if err != nil {
		return nil, err
	}

	candidates := make([]matching.Candidate, 0, len(stock))
	for _, item := range stock {
		c := matching.Candidate{DealerID: item.DealerID, AvailableKg: item.QuantityKg}
		dealer, err := s.profiles.Get(ctx, item.DealerID)
		switch {
		case err == nil:
			c.DealerName = dealer.Name
			c.Location = dealer.Location
		case svcerrors.IsCode(err, svcerrors.CodeNotFound):
			c.DealerName = "Unknown"
		default:
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return matching.RankDealers(candidates, remaining), nil
}
