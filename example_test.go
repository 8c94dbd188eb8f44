package drission_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chromedp/drission"
)

func ExampleConnect() {
	ctx := context.Background()

	b, err := drission.Connect(ctx, drission.WithHeadless())
	if err != nil {
		log.Fatal(err)
	}
	defer b.Quit(ctx, false)

	tab, err := b.LatestTab(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := tab.Get(ctx, "https://example.com"); err != nil {
		log.Fatal(err)
	}
	title, err := tab.Title(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(title)
}

func ExampleListener() {
	ctx := context.Background()

	b, err := drission.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	tab, err := b.LatestTab(ctx)
	if err != nil {
		log.Fatal(err)
	}

	l := tab.Listen()
	if err := l.Start(ctx, []string{"/api/"}); err != nil {
		log.Fatal(err)
	}
	defer l.Stop()
	if _, err := tab.Get(ctx, "https://example.com/app"); err != nil {
		log.Fatal(err)
	}
	packets, err := l.Wait(ctx, 1, 10*time.Second, false)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range packets {
		fmt.Println(p.Method(), p.URL(), p.Response.Status)
	}
}

func ExampleWaiter_DownloadBegin() {
	ctx := context.Background()

	b, err := drission.Connect(ctx, drission.WithDownloadPath("downloads"))
	if err != nil {
		log.Fatal(err)
	}
	tab, err := b.LatestTab(ctx)
	if err != nil {
		log.Fatal(err)
	}
	link, err := tab.Ele(ctx, "tag:a@download")
	if err != nil {
		log.Fatal(err)
	}

	tab.Set().DownloadFileName("report", "")
	if _, err := link.Click(ctx); err != nil {
		log.Fatal(err)
	}
	m, err := tab.Wait().DownloadBegin(ctx, false, 10*time.Second)
	if err != nil || m == nil {
		log.Fatal("no download ", err)
	}
	path, err := m.Wait(ctx, time.Minute)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(path)
}

func ExampleTab_Actions() {
	ctx := context.Background()

	b, err := drission.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	tab, err := b.LatestTab(ctx)
	if err != nil {
		log.Fatal(err)
	}
	handle, err := tab.Ele(ctx, "#slider-handle")
	if err != nil {
		log.Fatal(err)
	}
	err = tab.Actions().
		Hold(handle, "left").
		Move(200, 0, 500*time.Millisecond).
		Release(nil, "left").
		Perform(ctx)
	if err != nil {
		log.Fatal(err)
	}
}
