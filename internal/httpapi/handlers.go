package httpapi

import (
	"errors"
	"net/http"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zhttp"
	"github.com/gin-gonic/gin"
	"github.com/septivank/pawtelligent-feeder/internal/mq"
)

func (rs *RestfulServer) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (rs *RestfulServer) GetStatus(c *gin.Context) {
	resp := gin.H{
		"broker":    rs.Manager.Status(),
		"telemetry": rs.Telemetry.Snapshot(),
		"device":    nil,
	}
	if binding, ok := rs.Devices.Current(); ok {
		resp["device"] = binding
	}
	c.JSON(http.StatusOK, resp)
}

func (rs *RestfulServer) GetView(c *gin.Context) {
	c.JSON(http.StatusOK, rs.Bridge.View())
}

func (rs *RestfulServer) PostConnect(c *gin.Context) {
	if err := rs.Manager.Connect(c.Request.Context()); err != nil {
		if errors.Is(err, mq.ErrAlreadyConnected) {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to connect to the device. Please check your network connection and try again.",
		})
		return
	}
	c.JSON(http.StatusOK, rs.Manager.Status())
}

func (rs *RestfulServer) PostDisconnect(c *gin.Context) {
	rs.Manager.Disconnect()
	c.JSON(http.StatusOK, rs.Manager.Status())
}

type ProvisionRequest struct {
	Code    string `json:"code"`
	Network string `json:"network"`
}

var provisionRequestSchema = z.Struct(z.Shape{
	"code":    z.String().Required(),
	"network": z.String(),
})

func (rs *RestfulServer) PostProvision(c *gin.Context) {
	var req ProvisionRequest
	if errs := provisionRequestSchema.Parse(zhttp.Request(c.Request), &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs})
		return
	}

	binding, err := rs.Devices.Bind(req.Code, req.Network)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, binding)
}

type FeedRequest struct {
	Amount int `json:"amount"`
}

var feedRequestSchema = z.Struct(z.Shape{
	"amount": z.Int().Required(),
})

func (rs *RestfulServer) PostFeed(c *gin.Context) {
	var req FeedRequest
	if errs := feedRequestSchema.Parse(zhttp.Request(c.Request), &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs})
		return
	}

	if err := rs.Feeder.FeedNow(c.Request.Context(), req.Amount); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type PetRequest struct {
	Name   string `json:"name"`
	Weight string `json:"weight"`
}

var petRequestSchema = z.Struct(z.Shape{
	"name":   z.String().Trim().Required(),
	"weight": z.String().Trim().Required(),
})

func (rs *RestfulServer) PostPet(c *gin.Context) {
	var req PetRequest
	if errs := petRequestSchema.Parse(zhttp.Request(c.Request), &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs})
		return
	}

	pet, err := rs.Feeder.AddPet(c.Request.Context(), req.Name, req.Weight)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pet)
}

type WeightRequest struct {
	Weight string `json:"weight"`
}

var weightRequestSchema = z.Struct(z.Shape{
	"weight": z.String().Trim().Required(),
})

func (rs *RestfulServer) PatchWeight(c *gin.Context) {
	petID := c.Param("pet_id")

	var req WeightRequest
	if errs := weightRequestSchema.Parse(zhttp.Request(c.Request), &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs})
		return
	}

	if err := rs.Feeder.UpdateWeight(c.Request.Context(), petID, req.Weight); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type PhotoRequest struct {
	Photo string `json:"photo"`
}

var photoRequestSchema = z.Struct(z.Shape{
	"photo": z.String().Required(),
})

func (rs *RestfulServer) PutPhoto(c *gin.Context) {
	petID := c.Param("pet_id")

	var req PhotoRequest
	if errs := photoRequestSchema.Parse(zhttp.Request(c.Request), &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs})
		return
	}

	if err := rs.Feeder.SavePhoto(c.Request.Context(), petID, req.Photo); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Photo saved successfully!"})
}

type MealRequest struct {
	Portion int    `json:"portion"`
	Alarm   string `json:"alarm"`
}

var mealRequestSchema = z.Struct(z.Shape{
	"portion": z.Int().Required(),
	"alarm":   z.String().Trim().Required(),
})

func (rs *RestfulServer) PostMeal(c *gin.Context) {
	petID := c.Param("pet_id")

	var req MealRequest
	if errs := mealRequestSchema.Parse(zhttp.Request(c.Request), &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs})
		return
	}

	meal, err := rs.Feeder.AddMeal(c.Request.Context(), petID, req.Portion, req.Alarm)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meal)
}

func (rs *RestfulServer) PostToggleMeal(c *gin.Context) {
	meal, err := rs.Feeder.ToggleMeal(c.Request.Context(), c.Param("pet_id"), c.Param("meal_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meal)
}

func (rs *RestfulServer) DeleteMeal(c *gin.Context) {
	if err := rs.Feeder.DeleteMeal(c.Request.Context(), c.Param("pet_id"), c.Param("meal_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
