package handlers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/birth-rectifier/backend/internal/storage/models"
)

type Geocoder interface {
	Resolve(ctx context.Context, place string) (*models.Location, error)
}

type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (*models.Location, error)
}

type GeocodeHandler struct {
	geocoder Geocoder
	reverse  ReverseGeocoder
}

func NewGeocodeHandler(geocoder Geocoder, reverse ReverseGeocoder) *GeocodeHandler {
	return &GeocodeHandler{geocoder: geocoder, reverse: reverse}
}

func (h *GeocodeHandler) HandleGeocode(c *fiber.Ctx) error {
	place := c.Query("place")
	if place == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "place is required",
		})
	}

	loc, err := h.geocoder.Resolve(c.Context(), place)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(loc)
}

func (h *GeocodeHandler) HandleReverseGeocode(c *fiber.Ctx) error {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "lat and lon are required numeric parameters",
		})
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "lat/lon out of range",
		})
	}

	loc, err := h.reverse.ReverseGeocode(c.Context(), lat, lon)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(loc)
}
