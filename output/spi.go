package output

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"go-ambient-light-control/muxer"
)

// SPIWriter drives a WS2812B strip through an SPI port. The strip has no
// clock line; the bit timing is faked by running the port at 2.4 MHz and
// expanding every data bit to three SPI bits (see encodeWS2812).
type SPIWriter struct {
	port spi.PortCloser
	conn spi.Conn
}

func NewSPIWriter(device string) (*SPIWriter, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host: %w", err)
	}
	port, err := spireg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("open spi port %s: %w", device, err)
	}
	conn, err := port.Connect(2400*physic.KiloHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect spi port %s: %w", device, err)
	}
	return &SPIWriter{port: port, conn: conn}, nil
}

func (w *SPIWriter) Write(frame []muxer.RGB) error {
	if err := w.conn.Tx(encodeWS2812(frame), nil); err != nil {
		return fmt.Errorf("spi tx: %w", err)
	}
	return nil
}

func (w *SPIWriter) Close() error {
	return w.port.Close()
}
