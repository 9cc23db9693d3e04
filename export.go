package main

import (
	"fmt"
	"net/http"

	"bitbucket.org/beaconcrm/reviews_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// exportClientsHandler streams the business's client list as an xlsx
// workbook, one row per client with sentiment and invoice status.
func exportClientsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := clientContext(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		clients, err := models.ListClients(c.Request.Context(), "", 200, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		f := excelize.NewFile()
		sheet := "Clients"
		if _, err := f.NewSheet(sheet); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = f.DeleteSheet("Sheet1")

		f.SetCellValue(sheet, "A1", "Name")
		f.SetCellValue(sheet, "B1", "Email")
		f.SetCellValue(sheet, "C1", "Phone")
		f.SetCellValue(sheet, "D1", "Sentiment")
		f.SetCellValue(sheet, "E1", "InvoiceStatus")
		f.SetCellValue(sheet, "F1", "ItemDescription")

		for i, client := range clients {
			row := fmt.Sprint(i + 2)
			f.SetCellValue(sheet, "A"+row, client.Name)
			if client.Email != nil {
				f.SetCellValue(sheet, "B"+row, *client.Email)
			}
			f.SetCellValue(sheet, "C"+row, client.Phone)
			f.SetCellValue(sheet, "D"+row, string(client.Sentiment))
			f.SetCellValue(sheet, "E"+row, string(client.InvoiceStatus))
			f.SetCellValue(sheet, "F"+row, client.ItemDescription)
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=clients.xlsx")
		if err := f.Write(c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write file"})
		}
	}
}
