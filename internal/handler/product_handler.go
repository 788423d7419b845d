package handler

import (
	"strconv"

	"trustmarket/internal/service"
	"trustmarket/pkg/response"

	"github.com/gin-gonic/gin"
)

type ProductHandler struct {
	productService *service.ProductService
}

func NewProductHandler(productService *service.ProductService) *ProductHandler {
	return &ProductHandler{productService: productService}
}

func parseProductID(c *gin.Context) (int64, bool) {
	productID, err := strconv.ParseInt(c.Param("productID"), 10, 64)
	if err != nil || productID <= 0 {
		response.ParamError(c, "productID 不合法")
		return 0, false
	}
	return productID, true
}

// CreateProduct 上架商品
// POST /api/v1/products
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	product, err := h.productService.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, product)
}

// GetProduct 查询商品
// GET /api/v1/products/:productID
func (h *ProductHandler) GetProduct(c *gin.Context) {
	productID, ok := parseProductID(c)
	if !ok {
		return
	}

	product, err := h.productService.GetProduct(c.Request.Context(), productID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, product)
}

// ListProducts 查询卖家的商品
// GET /api/v1/products?seller_id=1
func (h *ProductHandler) ListProducts(c *gin.Context) {
	sellerID, err := strconv.ParseInt(c.Query("seller_id"), 10, 64)
	if err != nil || sellerID <= 0 {
		response.ParamError(c, "seller_id 不合法")
		return
	}

	products, err := h.productService.ListBySeller(c.Request.Context(), sellerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, products)
}

type productStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus 上下架或风控标记
// PUT /api/v1/products/:productID/status
func (h *ProductHandler) UpdateStatus(c *gin.Context) {
	productID, ok := parseProductID(c)
	if !ok {
		return
	}

	var req productStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	product, err := h.productService.UpdateStatus(c.Request.Context(), productID, req.Status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, product)
}
