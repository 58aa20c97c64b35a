package webserver

import (
	"bufio"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"meerkat/chart"
	"meerkat/chartview"
	"meerkat/model"
	"meerkat/utils/log"
	"meerkat/utils/tools"
)

// Server : 렌더 표면 역할의 웹서버. 뷰모델을 SSE로 밀어주고
// 브라우저의 포인터/범위/심볼 이벤트를 컨트롤러로 되돌린다.
type Server struct {
	app        *fiber.App
	controller *chart.Controller

	state surfaceState

	sseMu      sync.Mutex
	sseClients map[chan []byte]bool
}

func NewWebServer(paneWidth, paneHeight float64) *Server {
	ws := &Server{
		sseClients: make(map[chan []byte]bool),
	}
	ws.state.paneWidth = paneWidth
	ws.state.paneHeight = paneHeight
	return ws
}

// AttachController : 컨트롤러는 surface(=이 서버)를 받아 생성되므로 뒤에 붙인다
func (ws *Server) AttachController(c *chart.Controller) {
	ws.controller = c
}

func (ws *Server) Start(port string) error {
	if ws.controller == nil {
		return fmt.Errorf("webserver: controller not attached")
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(newRecover())

	app.Get("/", ws.indexHandler)
	app.Get("/sse", ws.sseHandler)
	app.Get("/api/chart", ws.chartHandler)
	app.Post("/api/chart/symbol", ws.symbolHandler)
	app.Post("/api/chart/timeframe", ws.timeframeHandler)
	app.Post("/api/events/pointer", ws.pointerHandler)
	app.Post("/api/events/range", ws.rangeHandler)
	app.Put("/api/lines/:id", ws.updateLineHandler)
	app.Delete("/api/lines/:id", ws.removeLineHandler)
	app.Delete("/api/lines", ws.clearLinesHandler)
	app.Post("/api/editor/close", ws.closeEditorHandler)
	app.Get("/debug/chart", ws.debugChartHandler)

	ws.app = app

	if !strings.ContainsAny(port, ":") {
		port = ":" + port
	}
	log.Infof("[webserver] listening on %s", port)
	return app.Listen(port)
}

func (ws *Server) Shutdown() error {
	if ws.app == nil {
		return nil
	}
	return ws.app.Shutdown()
}

// newRecover : 패닉을 잡아 스택과 함께 로그로 남긴다
func newRecover() fiber.Handler {
	return recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			log.Errorf("[webserver] panic: %v\n%s", e, debug.Stack())
		},
	})
}

// ----------------------------------------------------------------------------
// 핸들러
// ----------------------------------------------------------------------------

func (ws *Server) indexHandler(c *fiber.Ctx) error {
	c.Type("html")
	return c.SendString(`<html><body>
        <h2>Meerkat Chart</h2>
        <p><a href="/debug/chart">Server-rendered snapshot</a></p>
        <p>Live view-model: <code>GET /sse</code>, <code>GET /api/chart</code></p>
        </body></html>`)
}

func (ws *Server) chartHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(ws.controller.ViewModel())
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

func (ws *Server) symbolHandler(c *fiber.Ctx) error {
	var req symbolRequest
	if err := c.BodyParser(&req); err != nil || req.Symbol == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "symbol required"})
	}
	ws.controller.SetSymbol(strings.ToUpper(req.Symbol))
	return c.SendStatus(fiber.StatusAccepted)
}

type timeframeRequest struct {
	Timeframe string `json:"timeframe"`
}

func (ws *Server) timeframeHandler(c *fiber.Ctx) error {
	var req timeframeRequest
	if err := c.BodyParser(&req); err != nil || !tools.ValidTimeframe(req.Timeframe) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid timeframe"})
	}
	ws.controller.SetTimeframe(req.Timeframe)
	return c.SendStatus(fiber.StatusAccepted)
}

func (ws *Server) pointerHandler(c *fiber.Ctx) error {
	var ev chart.PointerEvent
	if err := c.BodyParser(&ev); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad pointer event"})
	}
	ws.controller.OnPointer(ev)
	return c.SendStatus(fiber.StatusAccepted)
}

func (ws *Server) rangeHandler(c *fiber.Ctx) error {
	var r model.LogicalRange
	if err := c.BodyParser(&r); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad range"})
	}
	ws.controller.OnRangeChange(r)
	return c.SendStatus(fiber.StatusAccepted)
}

func (ws *Server) updateLineHandler(c *fiber.Ctx) error {
	var patch model.PriceLineUpdate
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad patch"})
	}
	ws.controller.UpdatePriceLine(c.Params("id"), patch)
	return c.SendStatus(fiber.StatusAccepted)
}

func (ws *Server) removeLineHandler(c *fiber.Ctx) error {
	ws.controller.RemovePriceLine(c.Params("id"))
	return c.SendStatus(fiber.StatusAccepted)
}

func (ws *Server) clearLinesHandler(c *fiber.Ctx) error {
	ws.controller.ClearPriceLines()
	return c.SendStatus(fiber.StatusAccepted)
}

func (ws *Server) closeEditorHandler(c *fiber.Ctx) error {
	ws.controller.CloseEditor()
	return c.SendStatus(fiber.StatusAccepted)
}

func (ws *Server) debugChartHandler(c *fiber.Ctx) error {
	c.Type("html")
	page := chartview.BuildPage(ws.controller.ViewModel())
	return page.Render(c.Response().BodyWriter())
}

// ----------------------------------------------------------------------------
// SSE
// ----------------------------------------------------------------------------

func (ws *Server) sseHandler(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	clientChan := make(chan []byte, 64)
	ws.sseMu.Lock()
	ws.sseClients[clientChan] = true
	ws.sseMu.Unlock()

	// 초기 리플레이 프레임
	initial := ws.replayFrames()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			ws.sseMu.Lock()
			delete(ws.sseClients, clientChan)
			ws.sseMu.Unlock()
		}()

		for _, frame := range initial {
			fmt.Fprintf(w, "data: %s\n\n", frame)
		}
		if err := w.Flush(); err != nil {
			return
		}

		for payload := range clientChan {
			fmt.Fprintf(w, "data: %s\n\n", payload)
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}

// replayFrames : 새 SSE 클라이언트가 현재 상태를 따라잡기 위한 프레임들
func (ws *Server) replayFrames() [][]byte {
	ws.state.mu.RLock()
	defer ws.state.mu.RUnlock()

	candles := make([]CandleData, len(ws.state.candles))
	for i, c := range ws.state.candles {
		candles[i] = toCandleData(c)
	}
	frames := [][]byte{
		sseFrame("series", seriesEvent{
			Candles:  candles,
			Overlays: ws.state.overlays,
			Panels:   ws.state.panels,
		}),
		sseFrame("viewport", ws.state.visible),
	}
	if len(ws.state.lines) > 0 {
		frames = append(frames, sseFrame("pricelines", ws.state.lines))
	}
	if ws.state.errMsg != "" {
		frames = append(frames, sseFrame("error", map[string]string{"message": ws.state.errMsg}))
	}
	return frames
}

// broadcastSSE : 모든 SSE 클라이언트에게 전송. 밀린 클라이언트는 drop.
func (ws *Server) broadcastSSE(typ string, data any) {
	payload := sseFrame(typ, data)

	ws.sseMu.Lock()
	defer ws.sseMu.Unlock()
	for ch := range ws.sseClients {
		select {
		case ch <- payload:
		default:
		}
	}
}
